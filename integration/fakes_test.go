package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// FakeGitHub stands in for github.com and api.github.com
type FakeGitHub struct {
	*httptest.Server

	mu           sync.Mutex
	userID       int64
	login        string
	email        string
	lastCallback string
	exchanges    int
}

// NewFakeGitHub starts a fake that logs everyone in as the given user
func NewFakeGitHub(t *testing.T, userID int64, login, email string) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{userID: userID, login: login, email: email}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client_id") == "" || q.Get("redirect_uri") == "" {
			http.Error(w, "missing client_id or redirect_uri", http.StatusBadRequest)
			return
		}
		callback := fmt.Sprintf("%s?code=test-auth-code&state=%s", q.Get("redirect_uri"), url.QueryEscape(q.Get("state")))
		f.mu.Lock()
		f.lastCallback = callback
		f.mu.Unlock()
		http.Redirect(w, r, callback, http.StatusFound)
	})
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.exchanges++
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") != "test-auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    f.userID,
			"login": f.login,
		})
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"email": f.email, "primary": true, "verified": true},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// LastCallback is the redirect the fake last sent back to nimbus
func (f *FakeGitHub) LastCallback() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCallback
}

// Exchanges counts token endpoint calls
func (f *FakeGitHub) Exchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}
