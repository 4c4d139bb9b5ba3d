// Package session issues and verifies the signed session token held by the
// browser in the HTTP-only session cookie.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/nimbus/internal/crypto"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed, expired, forged or
// rotated-out session token
var ErrUnauthenticated = errors.New("unauthenticated")

const issuer = "nimbus"

// DefaultTTL is the fixed lifetime of a session token
const DefaultTTL = 24 * time.Hour

// Claims is the verified content of a session token
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Role      storage.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	KeyID     string
}

// Identity returns the caller identity carried by the claims
func (c Claims) Identity() Identity {
	return Identity{
		UserID: c.Subject,
		Email:  c.Email,
		Name:   c.Name,
		Role:   c.Role,
	}
}

// tokenClaims is the JWT body
type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Manager signs session tokens with HS256 under a key derived from the master
// secret and the current key id. The key id travels in the "kid" header; a
// token naming any other key id is rejected, so changing the key id logs
// everybody out.
type Manager struct {
	key   []byte
	keyID string
	ttl   time.Duration
	now   func() time.Time
}

// NewManager derives the signing key for keyID from master
func NewManager(master []byte, keyID string, ttl time.Duration) (*Manager, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key, err := crypto.DeriveKey(master, keyID, crypto.PurposeSession)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &Manager{key: key, keyID: keyID, ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of m that reads time from now
func (m *Manager) WithClock(now func() time.Time) *Manager {
	c := *m
	c.now = now
	return &c
}

// KeyID returns the id of the key new tokens are signed with
func (m *Manager) KeyID() string {
	return m.keyID
}

// TTL returns the token lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for u
func (m *Manager) Issue(u storage.User) (string, Claims, error) {
	now := m.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		KeyID:     m.keyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Email: claims.Email,
		Name:  claims.Name,
		Role:  string(claims.Role),
	})
	token.Header["kid"] = m.keyID

	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, expiry and key id. Every failure wraps
// ErrUnauthenticated.
func (m *Manager) Verify(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, ErrUnauthenticated
	}

	var parsed tokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &parsed, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid != m.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || parsed.Subject == "" || parsed.IssuedAt == nil {
		return Claims{}, ErrUnauthenticated
	}

	role := storage.Role(parsed.Role)
	if !role.Valid() {
		return Claims{}, fmt.Errorf("%w: invalid role", ErrUnauthenticated)
	}

	return Claims{
		Subject:   parsed.Subject,
		Email:     parsed.Email,
		Name:      parsed.Name,
		Role:      role,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
		KeyID:     m.keyID,
	}, nil
}
