package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/cookie"
	"github.com/dgellow/nimbus/internal/csrf"
	jsonwriter "github.com/dgellow/nimbus/internal/json"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/google/uuid"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The last one listed
// runs first.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// NewCORSMiddleware lets the configured frontend origins call the API with
// credentials. Preflights are answered here and never reach the handler.
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+csrf.HeaderName)
				h.Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status and body size for the access log.
// Unwrap keeps http.ResponseController working through it.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status != 0 {
		return
	}
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.written += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// NewLoggerMiddleware logs one line per request and echoes a request id.
// The query string is never logged: callbacks carry codes and state in it.
func NewLoggerMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			log.LogInfoWithFields(component, "request", map[string]any{
				"request_id":  id,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       rec.written,
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// NewRecoverMiddleware turns a handler panic into a 500
func NewRecoverMiddleware(component string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.LogErrorWithFields(component, "Recovered from panic", map[string]any{
						"panic":      fmt.Sprint(v),
						"path":       r.URL.Path,
						"request_id": w.Header().Get(RequestIDHeader),
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests without a valid session token and
// attaches the verified identity to the request context. Tokens are never
// refreshed here.
func RequireSession(sessions *session.Manager) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := cookie.GetSession(r)
			if err != nil {
				writeAuthError(w, authn.ErrUnauthenticated, "")
				return
			}

			claims, err := sessions.Verify(token)
			if err != nil {
				log.LogDebugWithFields("session", "Rejected session token", map[string]any{
					"path":  r.URL.Path,
					"error": err.Error(),
				})
				cookie.ClearSession(w)
				writeAuthError(w, err, "")
				return
			}

			ctx := session.WithIdentity(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin allows only admins through. It must run after the session
// middleware; a non-admin keeps their session and gets 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := session.IdentityFrom(r.Context())
		if !ok {
			writeAuthError(w, authn.ErrUnauthenticated, "")
			return
		}
		if !id.IsAdmin() {
			log.LogWarnWithFields("admin", "Non-admin denied", map[string]any{
				"user_id": id.UserID,
				"path":    r.URL.Path,
			})
			writeAuthError(w, authn.ErrForbidden, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
