package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/cookie"
	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/login"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
)

// maxLoginBody bounds the JSON body of the SPA login endpoints
const maxLoginBody = 16 << 10

// AuthService is what the handlers need from authn.Service
type AuthService interface {
	login.Authenticator
	Logout(ctx context.Context, id session.Identity)
}

// AuthHandlers serves the login, callback and logout endpoints
type AuthHandlers struct {
	flow      *login.Flow
	auth      AuthService
	sessions  *session.Manager
	replay    replay.Guard
	loginURL  string
	replayTTL time.Duration
}

// NewAuthHandlers creates the auth endpoint handlers
func NewAuthHandlers(flow *login.Flow, auth AuthService, sessions *session.Manager, guard replay.Guard, loginURL string, replayTTL time.Duration) *AuthHandlers {
	return &AuthHandlers{
		flow:      flow,
		auth:      auth,
		sessions:  sessions,
		replay:    guard,
		loginURL:  loginURL,
		replayTTL: replayTTL,
	}
}

// userResponse is the public view of a signed-in user
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func userResponseFrom(u storage.User) userResponse {
	return userResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  string(u.Role),
	}
}

// StartHandler redirects the browser to the provider named in the path
func (h *AuthHandlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	provider, ok := storage.ParseProvider(r.PathValue("provider"))
	if !ok {
		writeAuthError(w, authn.ErrUnknownProvider, h.loginURL)
		return
	}

	if err := h.flow.Start(w, r, provider); err != nil {
		log.LogErrorWithFields("auth", "Failed to start login", map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		writeAuthError(w, err, h.loginURL)
	}
}

// CallbackHandler completes a redirect login. Success sets the session cookie
// and redirects to the captured destination; failure never sets a session.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.Callback(w, r)
	if err != nil {
		log.LogWarnWithFields("auth", "Login callback failed", map[string]any{
			"error": err.Error(),
		})
		writeAuthError(w, err, h.loginURL)
		return
	}

	cookie.SetSession(w, result.Login.Token, h.sessions.TTL())

	log.LogDebugWithFields("auth", "Redirecting after login", map[string]any{
		"provider":  string(result.Provider),
		"return_to": result.ReturnTo,
	})
	http.Redirect(w, r, result.ReturnTo, http.StatusFound)
}

type googleLoginRequest struct {
	Code     string `json:"code"`
	Verifier string `json:"verifier"`
	Nonce    string `json:"nonce"`
}

type githubLoginRequest struct {
	Code string `json:"code"`
}

// errNotJSON rejects bodies a cross-site form could submit without a
// preflight (text/plain, urlencoded, multipart)
var errNotJSON = errors.New("content type must be application/json")

func decodeLoginBody(w http.ResponseWriter, r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errNotJSON
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode login body: %w", err)
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotJSON) {
		jsonwriter.WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error())
		return
	}
	jsonwriter.WriteBadRequest(w, "Invalid request body")
}

// GoogleLoginHandler exchanges a code obtained by a client that ran the
// redirect leg itself and kept its own verifier and nonce
func (h *AuthHandlers) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeLoginBody(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	h.codeLogin(w, r, storage.ProviderGoogle, authn.ExchangeRequest{
		Code:     req.Code,
		Verifier: req.Verifier,
		Nonce:    req.Nonce,
	})
}

// GitHubLoginHandler exchanges a GitHub code posted by the client
func (h *AuthHandlers) GitHubLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req githubLoginRequest
	if err := decodeLoginBody(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	h.codeLogin(w, r, storage.ProviderGitHub, authn.ExchangeRequest{Code: req.Code})
}

func (h *AuthHandlers) codeLogin(w http.ResponseWriter, r *http.Request, provider storage.Provider, req authn.ExchangeRequest) {
	if req.Code == "" {
		writeAuthError(w, authn.ErrMissingAuthorizationCode, h.loginURL)
		return
	}

	// A code is single-use at the provider; claiming it here keeps a
	// duplicated request from racing a second exchange.
	claimed, err := h.replay.Claim(r.Context(), "code:"+string(provider)+":"+req.Code, h.replayTTL)
	if err != nil {
		writeAuthError(w, err, h.loginURL)
		return
	}
	if !claimed {
		writeAuthError(w, fmt.Errorf("%w: code already used", authn.ErrInvalidState), h.loginURL)
		return
	}

	result, err := h.auth.Login(r.Context(), provider, req)
	if err != nil {
		log.LogWarnWithFields("auth", "Code login failed", map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		writeAuthError(w, err, h.loginURL)
		return
	}

	cookie.SetSession(w, result.Token, h.sessions.TTL())
	_ = jsonwriter.Write(w, userResponseFrom(result.User))
}

// LogoutHandler clears the session and CSRF cookies. It runs behind the
// session and CSRF middleware.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := session.IdentityFrom(r.Context())
	if !ok {
		writeAuthError(w, authn.ErrUnauthenticated, "")
		return
	}

	cookie.ClearSession(w)
	cookie.ClearCSRF(w)
	h.auth.Logout(r.Context(), id)

	log.LogInfoWithFields("auth", "User logged out", map[string]any{
		"user_id": id.UserID,
	})
	w.WriteHeader(http.StatusNoContent)
}
