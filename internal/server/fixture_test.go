package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/crypto"
	"github.com/dgellow/nimbus/internal/csrf"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/login"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/session"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/stretchr/testify/require"
)

var testMaster = []byte("server-test-master-0123456789abc")

// fakeIDP returns a fixed identity and records the last exchange
type fakeIDP struct {
	tag      storage.Provider
	identity idp.Identity

	mu    sync.Mutex
	last  idp.ExchangeRequest
	calls int
}

func (p *fakeIDP) Type() storage.Provider { return p.tag }

func (p *fakeIDP) AuthURL(req idp.AuthRequest) string {
	return "https://idp.test/" + string(p.tag) + "/authorize?state=" + req.State
}

func (p *fakeIDP) Exchange(_ context.Context, req idp.ExchangeRequest) (*idp.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = req
	p.calls++
	id := p.identity
	return &id, nil
}

func (p *fakeIDP) lastExchange() (idp.ExchangeRequest, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.calls
}

type testServer struct {
	handler    http.Handler
	challenges *login.CookieStore
	users      *storage.MemoryStorage
	sessions   *session.Manager
	google     *fakeIDP
	github     *fakeIDP
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("NIMBUS_ENV", "dev")

	sessions, err := session.NewManager(testMaster, "k1", session.DefaultTTL)
	require.NoError(t, err)
	csrfKey, err := crypto.DeriveKey(testMaster, "k1", crypto.PurposeCSRF)
	require.NoError(t, err)
	challengeKey, err := crypto.DeriveKey(testMaster, "k1", crypto.PurposeChallenge)
	require.NoError(t, err)
	challenges, err := login.NewCookieStore(challengeKey, 10*time.Minute)
	require.NoError(t, err)

	google := &fakeIDP{tag: storage.ProviderGoogle, identity: idp.Identity{
		Provider:      storage.ProviderGoogle,
		Subject:       "g-123",
		Email:         "Ada@Example.com",
		EmailVerified: true,
		Name:          "Ada Lovelace",
	}}
	github := &fakeIDP{tag: storage.ProviderGitHub, identity: idp.Identity{
		Provider: storage.ProviderGitHub,
		Subject:  "42",
		Email:    "grace@example.com",
		Name:     "grace",
	}}
	providers := idp.Registry{
		storage.ProviderGoogle: google,
		storage.ProviderGitHub: github,
	}

	users := storage.NewMemoryStorage()
	guard := replay.NewMemoryGuard(time.Minute)
	auth := authn.NewService(providers, users, sessions, nil)
	flow := login.NewFlow(login.FlowConfig{
		Providers:       providers,
		Store:           challenges,
		Replay:          guard,
		Auth:            auth,
		DefaultReturnTo: "/profile",
		ChallengeTTL:    10 * time.Minute,
	})

	handler := NewHandler(Deps{
		Flow:           flow,
		Auth:           auth,
		Sessions:       sessions,
		CSRF:           csrf.NewGuard(csrfKey, session.DefaultTTL),
		Replay:         guard,
		Users:          users,
		AllowedOrigins: []string{"http://localhost:3000"},
		LoginURL:       "/login",
	})

	return &testServer{
		handler:    handler,
		challenges: challenges,
		users:      users,
		sessions:   sessions,
		google:     google,
		github:     github,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// seedChallenge stores c the way Flow.Start would and returns the cookie
func (s *testServer) seedChallenge(t *testing.T, c login.Challenge) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, s.challenges.Save(rec, c))
	return responseCookie(rec, "oauth_challenge")
}

// sessionFor stores u and returns a session cookie for it
func (s *testServer) sessionFor(t *testing.T, u storage.User) *http.Cookie {
	t.Helper()
	created, err := s.users.Create(context.Background(), u)
	require.NoError(t, err)
	token, _, err := s.sessions.Issue(*created)
	require.NoError(t, err)
	return &http.Cookie{Name: "token", Value: token}
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func mustUser(t *testing.T, email string, role storage.Role) storage.User {
	t.Helper()
	u, err := storage.NewUser(email, "Test", storage.ProviderGoogle, "g-"+email, time.Now())
	require.NoError(t, err)
	u.Role = role
	return u
}
