package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SecureTokenBytes is the entropy of tokens from GenerateSecureToken
const SecureTokenBytes = 32

// GenerateSecureToken creates a cryptographically secure random token.
// Returns an unpadded base64url string suitable for OAuth state, nonce,
// PKCE verifiers and CSRF secrets. A failing randomness source is
// reported, never replaced.
func GenerateSecureToken() (string, error) {
	b, err := GenerateRandomBytes(SecureTokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateRandomBytes returns n bytes from crypto/rand
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
