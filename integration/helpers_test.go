package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dgellow/nimbus/internal"
	"github.com/dgellow/nimbus/internal/config"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	nimbus *httptest.Server
	github *FakeGitHub
	cfg    config.Config
}

// startNimbus runs the fully wired application against a fake GitHub and a
// temporary SQLite database
func startNimbus(t *testing.T) *testEnv {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	gh := NewFakeGitHub(t, 4242, "grace", "Grace@Example.com")

	t.Setenv("NIMBUS_ENV", "dev")
	t.Setenv("NIMBUS_BASE_URL", srv.URL)
	t.Setenv("NIMBUS_SESSION_SECRET", "integration-secret-0123456789abcdef")
	t.Setenv("NIMBUS_STORAGE", "sqlite")
	t.Setenv("NIMBUS_SQLITE_PATH", filepath.Join(t.TempDir(), "nimbus.db"))
	t.Setenv("NIMBUS_GITHUB_CLIENT_ID", "test-client")
	t.Setenv("NIMBUS_GITHUB_CLIENT_SECRET", "test-secret")
	t.Setenv("NIMBUS_GITHUB_AUTH_URL", gh.URL+"/login/oauth/authorize")
	t.Setenv("NIMBUS_GITHUB_TOKEN_URL", gh.URL+"/login/oauth/access_token")
	t.Setenv("NIMBUS_GITHUB_API_URL", gh.URL)

	cfg, err := config.Load("")
	require.NoError(t, err)

	app, err := internal.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	handler = app.Handler()

	return &testEnv{nimbus: srv, github: gh, cfg: cfg}
}

// browser returns a client with a cookie jar that stops at the first
// redirect back to a page outside nimbus' API
func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Path == "/profile" {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func getJSON(t *testing.T, client *http.Client, url string, v any) int {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// loginWithGitHub runs the redirect flow to completion
func loginWithGitHub(t *testing.T, env *testEnv, client *http.Client) {
	t.Helper()
	resp, err := client.Get(env.nimbus.URL + "/auth/github/start")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/profile", resp.Header.Get("Location"))
}
