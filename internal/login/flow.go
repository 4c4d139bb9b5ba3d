package login

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/storage"
)

// Authenticator exchanges a validated callback for a session
type Authenticator interface {
	Login(ctx context.Context, tag storage.Provider, req authn.ExchangeRequest) (*authn.LoginResult, error)
}

// FlowConfig wires a Flow
type FlowConfig struct {
	Providers idp.Registry
	Store     ChallengeStore
	Replay    replay.Guard
	Auth      Authenticator

	// DefaultReturnTo is used when the start request names no safe return_to
	DefaultReturnTo string
	// ChallengeTTL bounds how long a consumed state is remembered
	ChallengeTTL time.Duration
}

// Flow drives the redirect and callback legs of a login
type Flow struct {
	providers       idp.Registry
	store           ChallengeStore
	replay          replay.Guard
	auth            Authenticator
	defaultReturnTo string
	challengeTTL    time.Duration
}

// NewFlow creates a flow from cfg
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.DefaultReturnTo == "" {
		cfg.DefaultReturnTo = "/profile"
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 10 * time.Minute
	}
	return &Flow{
		providers:       cfg.Providers,
		store:           cfg.Store,
		replay:          cfg.Replay,
		auth:            cfg.Auth,
		defaultReturnTo: cfg.DefaultReturnTo,
		challengeTTL:    cfg.ChallengeTTL,
	}
}

// Start generates a challenge, stores it and only then redirects the browser
// to the provider
func (f *Flow) Start(w http.ResponseWriter, r *http.Request, tag storage.Provider) error {
	provider, ok := f.providers.Get(tag)
	if !ok {
		return fmt.Errorf("%w: %q", authn.ErrUnknownProvider, tag)
	}

	returnTo := SafeReturnTo(r.URL.Query().Get("return_to"), f.defaultReturnTo)
	c, err := NewChallenge(tag, returnTo)
	if err != nil {
		return err
	}
	if err := f.store.Save(w, c); err != nil {
		return fmt.Errorf("persist login challenge: %w", err)
	}

	log.LogDebugWithFields("login", "Redirecting to provider", map[string]any{
		"provider":  string(tag),
		"return_to": returnTo,
	})
	http.Redirect(w, r, provider.AuthURL(c.AuthRequest()), http.StatusFound)
	return nil
}

// CallbackResult is a completed login and where to send the browser next
type CallbackResult struct {
	Login    *authn.LoginResult
	Provider storage.Provider
	ReturnTo string
}

// Callback validates the provider redirect and performs the exchange. The
// stored challenge is erased before anything is checked, so a callback can
// be attempted once per challenge; the replay guard extends that across
// instances and to a replayed cookie.
func (f *Flow) Callback(w http.ResponseWriter, r *http.Request) (*CallbackResult, error) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")

	c, err := f.store.Take(w, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authn.ErrInvalidState, err)
	}

	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(c.State)) != 1 {
		log.LogWarnWithFields("login", "Callback state mismatch", map[string]any{
			"provider": string(c.Provider),
		})
		return nil, authn.ErrInvalidState
	}

	if providerErr := q.Get("error"); providerErr != "" {
		return nil, fmt.Errorf("%w: %s", authn.ErrProviderDenied, providerErr)
	}

	if code == "" {
		return nil, authn.ErrMissingAuthorizationCode
	}

	claimed, err := f.replay.Claim(r.Context(), "state:"+c.State, f.challengeTTL)
	if err != nil {
		return nil, fmt.Errorf("claim login state: %w", err)
	}
	if !claimed {
		log.LogWarnWithFields("login", "Replayed callback", map[string]any{
			"provider": string(c.Provider),
		})
		return nil, fmt.Errorf("%w: already used", authn.ErrInvalidState)
	}

	result, err := f.auth.Login(r.Context(), c.Provider, c.ExchangeRequest(code))
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		Login:    result,
		Provider: c.Provider,
		ReturnTo: SafeReturnTo(c.ReturnTo, f.defaultReturnTo),
	}, nil
}
