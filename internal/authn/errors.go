package authn

import (
	"errors"

	"github.com/dgellow/nimbus/internal/csrf"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/session"
)

// Login flow failures. All of them end the attempt; none leaves a session.
var (
	// ErrInvalidState means the callback state is absent or does not match
	// the stored challenge. Forgery is suspected.
	ErrInvalidState = errors.New("invalid state")

	ErrMissingAuthorizationCode = errors.New("missing authorization code")

	// ErrProviderDenied is returned when the provider redirects back with an
	// error parameter instead of a code
	ErrProviderDenied = errors.New("provider denied authorization")

	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmailConflict is returned when a first login carries an email that
	// already belongs to a user linked to another provider
	ErrEmailConflict = errors.New("email already registered with another provider")

	ErrMissingPKCEMaterial = idp.ErrMissingPKCEMaterial
	ErrNonceMismatch       = idp.ErrNonceMismatch
)

// Access failures
var (
	ErrUnauthenticated      = session.ErrUnauthenticated
	ErrForbidden            = errors.New("forbidden")
	ErrCSRFValidationFailed = csrf.ErrValidationFailed
)
