package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/nimbus/internal/emailutil"
	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user matches a lookup
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateKey is returned by Create when the email or a provider id is
// already taken by another user
var ErrDuplicateKey = errors.New("duplicate key")

// Role is the authorization level of a user
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Provider identifies an external identity provider
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ParseProvider maps a provider tag to a Provider
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGoogle, ProviderGitHub:
		return Provider(s), true
	default:
		return "", false
	}
}

// User is a locally stored identity. Email and every non-empty provider id
// are unique across users.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	GoogleID  string    `json:"google_id,omitempty"`
	GitHubID  string    `json:"github_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderID returns the user's id at provider p, or "" when not linked
func (u User) ProviderID(p Provider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	default:
		return ""
	}
}

// NewUser builds a first-login user linked to one provider. The role is
// always RoleUser; providers never grant admin.
func NewUser(email, name string, p Provider, providerID string, now time.Time) (User, error) {
	if providerID == "" {
		return User{}, fmt.Errorf("provider id is required")
	}
	u := User{
		ID:        uuid.NewString(),
		Email:     emailutil.Normalize(email),
		Name:      name,
		Role:      RoleUser,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	switch p {
	case ProviderGoogle:
		u.GoogleID = providerID
	case ProviderGitHub:
		u.GitHubID = providerID
	default:
		return User{}, fmt.Errorf("unknown provider %q", p)
	}
	return u, nil
}

// UserStore is the persistence collaborator for identities
type UserStore interface {
	// FindByProviderID returns ErrUserNotFound when nobody is linked to id at p
	FindByProviderID(ctx context.Context, p Provider, id string) (*User, error)
	// FindByEmail returns ErrUserNotFound when the email is unknown
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Create inserts u and returns ErrDuplicateKey on any uniqueness violation
	Create(ctx context.Context, u User) (*User, error)
	ListAll(ctx context.Context) ([]User, error)
	// SetRole changes the role of the user with the given email
	SetRole(ctx context.Context, email string, role Role) error
	Close() error
}
