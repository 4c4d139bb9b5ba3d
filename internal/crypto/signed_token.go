package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-signed tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
)

// TokenSigner provides HMAC-signed JSON tokens with optional expiry
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer. A zero ttl produces tokens
// that never expire.
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// WithClock returns a copy of the signer using now as its time source
func (ts TokenSigner) WithClock(now func() time.Time) TokenSigner {
	ts.now = now
	return ts
}

// TokenData wraps user data with metadata
type TokenData struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Sign marshals data to JSON, signs it with HMAC, and returns "payload.signature"
func (ts *TokenSigner) Sign(v any) (string, error) {
	userData, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	tokenData := TokenData{Data: userData}
	if ts.ttl > 0 {
		tokenData.ExpiresAt = ts.now().Add(ts.ttl)
	}

	jsonData, err := json.Marshal(tokenData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(jsonData)
	return payload + "." + SignData(payload, ts.signingKey), nil
}

// Verify validates the signature, checks expiry, and unmarshals the data
func (ts *TokenSigner) Verify(token string, v any) error {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || payload == "" || signature == "" {
		return fmt.Errorf("%w: malformed", ErrInvalidToken)
	}

	// Signature is checked over the encoded payload before anything is decoded
	if !ValidateSignedData(payload, signature, ts.signingKey) {
		return fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}

	jsonData, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to decode token data", ErrInvalidToken)
	}

	var tokenData TokenData
	if err := json.Unmarshal(jsonData, &tokenData); err != nil {
		return fmt.Errorf("%w: failed to unmarshal token data", ErrInvalidToken)
	}

	if !tokenData.ExpiresAt.IsZero() && !ts.now().Before(tokenData.ExpiresAt) {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(tokenData.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	return nil
}
