// Package login runs the browser side of the authorization code flow: it
// generates the per-attempt challenge, keeps it until the provider redirects
// back, and validates the callback before handing the code to authn.
package login

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dgellow/nimbus/internal/crypto"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/storage"
)

// Challenge is the single-use material of one login attempt
type Challenge struct {
	Verifier  string           `json:"v"`
	Challenge string           `json:"c"`
	State     string           `json:"s"`
	Nonce     string           `json:"n"`
	Provider  storage.Provider `json:"p"`
	ReturnTo  string           `json:"r,omitempty"`
	CreatedAt time.Time        `json:"t"`
}

// NewChallenge draws fresh state, nonce and PKCE verifier from crypto/rand
// and derives the S256 challenge
func NewChallenge(provider storage.Provider, returnTo string) (Challenge, error) {
	var values [3]string
	for i := range values {
		v, err := crypto.GenerateSecureToken()
		if err != nil {
			return Challenge{}, fmt.Errorf("generate login challenge: %w", err)
		}
		values[i] = v
	}

	return Challenge{
		Verifier:  values[0],
		Challenge: DeriveChallenge(values[0]),
		State:     values[1],
		Nonce:     values[2],
		Provider:  provider,
		ReturnTo:  returnTo,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DeriveChallenge is the PKCE S256 transform: unpadded base64url of SHA-256
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthRequest returns the values that go into the authorization URL
func (c Challenge) AuthRequest() idp.AuthRequest {
	return idp.AuthRequest{
		State:         c.State,
		Nonce:         c.Nonce,
		CodeChallenge: c.Challenge,
	}
}

// ExchangeRequest pairs code with the stored PKCE material
func (c Challenge) ExchangeRequest(code string) idp.ExchangeRequest {
	return idp.ExchangeRequest{
		Code:     code,
		Verifier: c.Verifier,
		Nonce:    c.Nonce,
	}
}
