package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		method         string
		expectOrigin   string
		expectStatus   int
	}{
		{
			name:           "allowed origin",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "http://localhost:3000",
			method:         "GET",
			expectOrigin:   "http://localhost:3000",
			expectStatus:   http.StatusOK,
		},
		{
			name:           "disallowed origin",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "http://evil.com",
			method:         "GET",
			expectOrigin:   "",
			expectStatus:   http.StatusOK,
		},
		{
			name:           "preflight request",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "http://localhost:3000",
			method:         "OPTIONS",
			expectOrigin:   "http://localhost:3000",
			expectStatus:   http.StatusNoContent,
		},
		{
			name:           "no origin header",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "",
			method:         "GET",
			expectOrigin:   "",
			expectStatus:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			corsHandler := NewCORSMiddleware(tt.allowedOrigins)(handler)

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}

			rec := httptest.NewRecorder()
			corsHandler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectStatus, rec.Code)
			assert.Equal(t, tt.expectOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.expectOrigin != "" {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			}
			if tt.method == http.MethodOptions {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
			}
			assert.Contains(t, rec.Header().Values("Vary"), "Origin")
		})
	}
}

func TestPreflightThroughMux(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/auth/logout", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := s.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireSession(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	sessions, err := session.NewManager(testMaster, "k1", session.DefaultTTL)
	require.NoError(t, err)
	sessions = sessions.WithClock(func() time.Time { return clock })

	token, _, err := sessions.Issue(storage.User{ID: "user-1", Email: "ada@example.com", Role: storage.RoleUser})
	require.NoError(t, err)

	var got session.Identity
	handler := RequireSession(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = session.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := serve()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got.UserID)
	assert.Nil(t, responseCookie(rec, "token"), "verification never refreshes the token")

	clock = now.Add(25 * time.Hour)
	rec = serve()
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := responseCookie(rec, "token")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		ctx        func(context.Context) context.Context
		wantStatus int
	}{
		{"no identity", func(ctx context.Context) context.Context { return ctx }, http.StatusUnauthorized},
		{"user", func(ctx context.Context) context.Context {
			return session.WithIdentity(ctx, session.Identity{UserID: "u", Role: storage.RoleUser})
		}, http.StatusForbidden},
		{"admin", func(ctx context.Context) context.Context {
			return session.WithIdentity(ctx, session.Identity{UserID: "a", Role: storage.RoleAdmin})
		}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			req = req.WithContext(tt.ctx(req.Context()))
			rec := httptest.NewRecorder()
			RequireAdmin(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := NewRecoverMiddleware("test")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerMiddleware_RequestID(t *testing.T) {
	handler := NewLoggerMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := ChainMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("inner"), mw("outer"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestWriteAuthError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{authn.ErrInvalidState, http.StatusBadRequest, "invalid_state"},
		{authn.ErrMissingAuthorizationCode, http.StatusBadRequest, "missing_authorization_code"},
		{authn.ErrMissingPKCEMaterial, http.StatusBadRequest, "missing_pkce_material"},
		{authn.ErrNonceMismatch, http.StatusBadRequest, "nonce_mismatch"},
		{authn.ErrProviderDenied, http.StatusBadRequest, "access_denied"},
		{authn.ErrUnknownProvider, http.StatusBadRequest, "unknown_provider"},
		{authn.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{authn.ErrForbidden, http.StatusForbidden, "forbidden"},
		{authn.ErrCSRFValidationFailed, http.StatusForbidden, "csrf_validation_failed"},
		{authn.ErrEmailConflict, http.StatusConflict, "email_conflict"},
		{errors.New("dial tcp 10.0.0.1:5432: refused"), http.StatusInternalServerError, "internal_server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAuthError(rec, errors.Join(errors.New("context"), tt.err), "/login")

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotContains(t, rec.Body.String(), "10.0.0.1", "internal detail never reaches the client")
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
