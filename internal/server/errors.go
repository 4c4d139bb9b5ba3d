package server

import (
	"errors"
	"net/http"

	"github.com/dgellow/nimbus/internal/authn"
	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
)

type authErrorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters only where sentinels wrap each other; none do today.
var authErrorMappings = []authErrorMapping{
	{authn.ErrInvalidState, http.StatusBadRequest, "invalid_state", "Login could not be verified. Please try again."},
	{authn.ErrMissingAuthorizationCode, http.StatusBadRequest, "missing_authorization_code", "The provider did not return an authorization code."},
	{authn.ErrMissingPKCEMaterial, http.StatusBadRequest, "missing_pkce_material", "Login is missing its verifier or nonce."},
	{authn.ErrNonceMismatch, http.StatusBadRequest, "nonce_mismatch", "Login could not be verified. Please try again."},
	{authn.ErrProviderDenied, http.StatusBadRequest, "access_denied", "The provider did not authorize the login."},
	{authn.ErrUnknownProvider, http.StatusBadRequest, "unknown_provider", "Unknown login provider."},
	{authn.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "Authentication required"},
	{authn.ErrForbidden, http.StatusForbidden, "forbidden", "Admin access required"},
	{authn.ErrCSRFValidationFailed, http.StatusForbidden, "csrf_validation_failed", "CSRF validation failed"},
	{authn.ErrEmailConflict, http.StatusConflict, "email_conflict", "This email is already registered with another provider."},
}

// writeAuthError maps err to a status and a stable error code. Login flow
// failures carry loginURL so the client can restart. Unmapped errors become
// a 500 and their detail stays in the log.
func writeAuthError(w http.ResponseWriter, err error, loginURL string) {
	for _, m := range authErrorMappings {
		if errors.Is(err, m.target) {
			if m.status == http.StatusBadRequest || m.status == http.StatusConflict {
				jsonwriter.WriteLoginError(w, m.status, m.code, m.message, loginURL)
				return
			}
			jsonwriter.WriteError(w, m.status, m.code, m.message)
			return
		}
	}

	log.LogErrorWithFields("server", "Unhandled auth error", map[string]any{
		"error": err.Error(),
	})
	if loginURL != "" {
		jsonwriter.WriteLoginError(w, http.StatusInternalServerError, "internal_server_error", "Login failed", loginURL)
		return
	}
	jsonwriter.WriteInternalServerError(w, "Internal Server Error")
}
