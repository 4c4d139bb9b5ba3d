package server

import (
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/storage"
)

// AdminHandlers serves the admin API. Every route runs behind RequireAdmin.
type AdminHandlers struct {
	users storage.UserStore
}

// NewAdminHandlers creates admin endpoint handlers
func NewAdminHandlers(users storage.UserStore) *AdminHandlers {
	return &AdminHandlers{users: users}
}

type adminUserResponse struct {
	ID        string             `json:"id"`
	Email     string             `json:"email"`
	Name      string             `json:"name"`
	Role      string             `json:"role"`
	Providers []storage.Provider `json:"providers"`
	CreatedAt time.Time          `json:"created_at"`
}

func linkedProviders(u storage.User) []storage.Provider {
	providers := []storage.Provider{}
	for _, p := range []storage.Provider{storage.ProviderGoogle, storage.ProviderGitHub} {
		if u.ProviderID(p) != "" {
			providers = append(providers, p)
		}
	}
	return providers
}

// ListUsersHandler returns every user, oldest first
func (h *AdminHandlers) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListAll(r.Context())
	if err != nil {
		log.LogErrorWithFields("admin", "Failed to list users", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to list users")
		return
	}

	resp := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, adminUserResponse{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Role:      string(u.Role),
			Providers: linkedProviders(u),
			CreatedAt: u.CreatedAt,
		})
	}
	_ = jsonwriter.Write(w, resp)
}
