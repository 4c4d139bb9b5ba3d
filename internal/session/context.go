package session

import (
	"context"

	"github.com/dgellow/nimbus/internal/storage"
)

// Identity is the authenticated caller attached to a request context
type Identity struct {
	UserID string       `json:"id"`
	Email  string       `json:"email"`
	Name   string       `json:"name"`
	Role   storage.Role `json:"role"`
}

// IsAdmin reports whether the caller holds the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == storage.RoleAdmin
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
