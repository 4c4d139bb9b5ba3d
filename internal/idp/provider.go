package idp

import (
	"context"
	"errors"

	"github.com/dgellow/nimbus/internal/storage"
)

var (
	// ErrMissingPKCEMaterial is returned when an OIDC exchange lacks the PKCE
	// verifier or the nonce. It is a local failure, not a provider one.
	ErrMissingPKCEMaterial = errors.New("missing PKCE verifier or nonce")

	// ErrNonceMismatch is returned when the ID token nonce differs from the one
	// sent in the authorization request
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// Identity is the normalised user identity returned by any provider
type Identity struct {
	Provider      storage.Provider `json:"provider"`
	Subject       string           `json:"sub"`
	Email         string           `json:"email"`
	EmailVerified bool             `json:"email_verified"`
	Name          string           `json:"name"`
	Picture       string           `json:"picture,omitempty"`
}

// AuthRequest carries the per-attempt values a provider may put into its
// authorization URL. Providers ignore what their protocol does not use.
type AuthRequest struct {
	State         string
	Nonce         string
	CodeChallenge string
}

// ExchangeRequest carries the callback code and the PKCE material that was
// generated with the matching AuthRequest
type ExchangeRequest struct {
	Code     string
	Verifier string
	Nonce    string
}

// Provider abstracts identity provider operations
type Provider interface {
	// Type returns the provider tag ("google" or "github")
	Type() storage.Provider

	// AuthURL generates the authorization URL for the code flow
	AuthURL(req AuthRequest) string

	// Exchange trades the authorization code for a verified identity
	Exchange(ctx context.Context, req ExchangeRequest) (*Identity, error)
}
