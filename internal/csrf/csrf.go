// Package csrf guards state-changing requests with a session-bound
// double-submit token.
//
// A random secret lives in a signed, HTTP-only, SameSite=Strict cookie. The
// client never reads that cookie; it receives HMAC(key, secret, subject) in a
// response body and echoes it in the X-CSRF-Token header. A cross-site page
// can neither read the token nor mint one for another subject.
package csrf

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/cookie"
	"github.com/dgellow/nimbus/internal/crypto"
	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/session"
)

// HeaderName carries the derived token on unsafe requests
const HeaderName = "X-CSRF-Token"

// ErrValidationFailed is returned when the header token is absent or does
// not match the one derived from the secret cookie
var ErrValidationFailed = errors.New("CSRF validation failed")

// DeriveToken binds secret to subject under key
func DeriveToken(key []byte, secret, subject string) string {
	return crypto.SignData(secret+"\x00"+subject, key)
}

type secretPayload struct {
	Secret string `json:"s"`
}

// Guard issues and verifies CSRF tokens
type Guard struct {
	key    []byte
	signer crypto.TokenSigner
	ttl    time.Duration
}

// NewGuard creates a guard. ttl bounds both the secret cookie and its signature.
func NewGuard(key []byte, ttl time.Duration) *Guard {
	return &Guard{
		key:    key,
		signer: crypto.NewTokenSigner(key, ttl),
		ttl:    ttl,
	}
}

// secret returns the verified secret from the request cookie
func (g *Guard) secret(r *http.Request) (string, error) {
	raw, err := cookie.GetCSRF(r)
	if err != nil {
		return "", err
	}
	var p secretPayload
	if err := g.signer.Verify(raw, &p); err != nil {
		return "", err
	}
	if p.Secret == "" {
		return "", fmt.Errorf("empty CSRF secret")
	}
	return p.Secret, nil
}

// Issue returns the token for subject, minting and setting a new secret
// cookie when the request has no valid one
func (g *Guard) Issue(w http.ResponseWriter, r *http.Request, subject string) (string, error) {
	secret, err := g.secret(r)
	if err != nil {
		secret, err = crypto.GenerateSecureToken()
		if err != nil {
			return "", fmt.Errorf("generate CSRF secret: %w", err)
		}
		signed, err := g.signer.Sign(secretPayload{Secret: secret})
		if err != nil {
			return "", fmt.Errorf("sign CSRF secret: %w", err)
		}
		cookie.SetCSRF(w, signed, g.ttl)
	}
	return DeriveToken(g.key, secret, subject), nil
}

// Verify checks the header token of r against subject
func (g *Guard) Verify(r *http.Request, subject string) error {
	got := r.Header.Get(HeaderName)
	if got == "" {
		return fmt.Errorf("%w: missing %s header", ErrValidationFailed, HeaderName)
	}
	secret, err := g.secret(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	want := DeriveToken(g.key, secret, subject)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: token mismatch", ErrValidationFailed)
	}
	return nil
}

// IsSafeMethod reports whether method cannot change state
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Middleware verifies unsafe requests against the session identity on the
// request context. It must run after session authentication.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := session.IdentityFrom(r.Context())
		if !ok {
			jsonwriter.WriteError(w, http.StatusForbidden, "csrf_validation_failed", "CSRF validation failed")
			return
		}
		if err := g.Verify(r, id.UserID); err != nil {
			log.LogWarnWithFields("csrf", "Rejected request", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"error":  err.Error(),
			})
			jsonwriter.WriteError(w, http.StatusForbidden, "csrf_validation_failed", "CSRF validation failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}
