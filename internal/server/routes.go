package server

import (
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/csrf"
	"github.com/dgellow/nimbus/internal/login"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
)

// Deps are the collaborators the HTTP surface is built from
type Deps struct {
	Flow     *login.Flow
	Auth     AuthService
	Sessions *session.Manager
	CSRF     *csrf.Guard
	Replay   replay.Guard
	Users    storage.UserStore

	AllowedOrigins []string
	LoginURL       string
	// ReplayTTL bounds how long a consumed SPA login code is remembered
	ReplayTTL time.Duration
}

// NewHandler registers every route on a fresh mux
func NewHandler(d Deps) http.Handler {
	if d.ReplayTTL <= 0 {
		d.ReplayTTL = 10 * time.Minute
	}

	mux := http.NewServeMux()

	cors := NewCORSMiddleware(d.AllowedOrigins)
	requireSession := RequireSession(d.Sessions)

	authHandlers := NewAuthHandlers(d.Flow, d.Auth, d.Sessions, d.Replay, d.LoginURL, d.ReplayTTL)
	userHandlers := NewUserHandlers(d.CSRF)
	adminHandlers := NewAdminHandlers(d.Users)

	// The last middleware listed runs first.
	public := []MiddlewareFunc{
		cors,
		NewLoggerMiddleware("auth"),
		NewRecoverMiddleware("auth"),
	}
	authenticated := []MiddlewareFunc{
		d.CSRF.Middleware,
		requireSession,
		cors,
		NewLoggerMiddleware("api"),
		NewRecoverMiddleware("api"),
	}
	admin := []MiddlewareFunc{
		RequireAdmin,
		requireSession,
		cors,
		NewLoggerMiddleware("admin"),
		NewRecoverMiddleware("admin"),
	}

	mux.HandleFunc("GET /health", healthHandler)

	mux.Handle("GET /auth/{provider}/start", ChainMiddleware(http.HandlerFunc(authHandlers.StartHandler), public...))
	mux.Handle("GET /auth/callback", ChainMiddleware(http.HandlerFunc(authHandlers.CallbackHandler), public...))
	mux.Handle("POST /auth/google", ChainMiddleware(http.HandlerFunc(authHandlers.GoogleLoginHandler), public...))
	mux.Handle("POST /auth/github", ChainMiddleware(http.HandlerFunc(authHandlers.GitHubLoginHandler), public...))
	mux.Handle("POST /auth/logout", ChainMiddleware(http.HandlerFunc(authHandlers.LogoutHandler), authenticated...))

	mux.Handle("GET /api/user/me", ChainMiddleware(http.HandlerFunc(userHandlers.MeHandler), authenticated...))
	mux.Handle("GET /api/admin/users", ChainMiddleware(http.HandlerFunc(adminHandlers.ListUsersHandler), admin...))

	// Preflight for the credentialed endpoints
	mux.Handle("OPTIONS /", ChainMiddleware(http.NotFoundHandler(), cors))

	return mux
}
