package server

import (
	"net/http"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/csrf"
	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/session"
)

// UserHandlers serves endpoints for the signed-in user
type UserHandlers struct {
	csrf *csrf.Guard
}

// NewUserHandlers creates user endpoint handlers
func NewUserHandlers(guard *csrf.Guard) *UserHandlers {
	return &UserHandlers{csrf: guard}
}

type meResponse struct {
	userResponse
	CSRFToken string `json:"csrfToken"`
}

// MeHandler returns the session identity and the CSRF token bound to it.
// The token is only ever handed out here.
func (h *UserHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := session.IdentityFrom(r.Context())
	if !ok {
		writeAuthError(w, authn.ErrUnauthenticated, "")
		return
	}

	token, err := h.csrf.Issue(w, r, id.UserID)
	if err != nil {
		log.LogErrorWithFields("user", "Failed to issue CSRF token", map[string]any{
			"user_id": id.UserID,
			"error":   err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}

	_ = jsonwriter.Write(w, meResponse{
		userResponse: userResponse{
			ID:    id.UserID,
			Email: id.Email,
			Name:  id.Name,
			Role:  string(id.Role),
		},
		CSRFToken: token,
	})
}
