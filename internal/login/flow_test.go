package login

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/nimbus/internal/authn"
	"github.com/dgellow/nimbus/internal/cookie"
	"github.com/dgellow/nimbus/internal/idp"
	"github.com/dgellow/nimbus/internal/replay"
	"github.com/dgellow/nimbus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	tag storage.Provider
}

func (p stubProvider) Type() storage.Provider { return p.tag }

func (p stubProvider) AuthURL(req idp.AuthRequest) string {
	q := url.Values{"state": {req.State}, "nonce": {req.Nonce}, "code_challenge": {req.CodeChallenge}}
	return "https://idp.test/authorize?" + q.Encode()
}

func (p stubProvider) Exchange(context.Context, idp.ExchangeRequest) (*idp.Identity, error) {
	return nil, nil
}

// countingAuth records every exchange it is asked to perform
type countingAuth struct {
	calls atomic.Int32
	last  authn.ExchangeRequest
	tag   storage.Provider
	err   error
}

func (a *countingAuth) Login(_ context.Context, tag storage.Provider, req authn.ExchangeRequest) (*authn.LoginResult, error) {
	a.calls.Add(1)
	a.last = req
	a.tag = tag
	if a.err != nil {
		return nil, a.err
	}
	return &authn.LoginResult{
		User:  storage.User{ID: "user-1", Email: "ada@example.com", Role: storage.RoleUser},
		Token: "signed-token",
	}, nil
}

type flowFixture struct {
	flow  *Flow
	store *CookieStore
	auth  *countingAuth
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	store, err := NewCookieStore([]byte("challenge-key-0123456789abcdef!!"), 10*time.Minute)
	require.NoError(t, err)
	auth := &countingAuth{}
	flow := NewFlow(FlowConfig{
		Providers: idp.Registry{
			storage.ProviderGoogle: stubProvider{tag: storage.ProviderGoogle},
			storage.ProviderGitHub: stubProvider{tag: storage.ProviderGitHub},
		},
		Store:           store,
		Replay:          replay.NewMemoryGuard(time.Minute),
		Auth:            auth,
		DefaultReturnTo: "/profile",
		ChallengeTTL:    10 * time.Minute,
	})
	return &flowFixture{flow: flow, store: store, auth: auth}
}

// start runs Start and returns the challenge cookie and the state sent to the provider
func (f *flowFixture) start(t *testing.T, tag storage.Provider, target string) (*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, f.flow.Start(rec, httptest.NewRequest(http.MethodGet, target, nil), tag))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.ChallengeCookie {
			return c, loc.Query().Get("state")
		}
	}
	require.FailNow(t, "challenge cookie not set before redirect")
	return nil, ""
}

func callbackRequest(c *http.Cookie, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

func clearedChallenge(rec *httptest.ResponseRecorder) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.ChallengeCookie && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestFlow_StartPersistsThenRedirects(t *testing.T) {
	f := newFlowFixture(t)
	c, state := f.start(t, storage.ProviderGoogle, "/auth/google/start?return_to=/settings")

	assert.NotEmpty(t, state)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 600, c.MaxAge)
	assert.NotContains(t, c.Value, state, "challenge is sealed")
}

func TestFlow_StartUnknownProvider(t *testing.T) {
	f := newFlowFixture(t)
	rec := httptest.NewRecorder()
	err := f.flow.Start(rec, httptest.NewRequest(http.MethodGet, "/auth/facebook/start", nil), storage.Provider("facebook"))
	assert.ErrorIs(t, err, authn.ErrUnknownProvider)
	assert.Empty(t, rec.Result().Cookies())
}

func TestFlow_CallbackSuccess(t *testing.T) {
	f := newFlowFixture(t)
	c, state := f.start(t, storage.ProviderGoogle, "/auth/google/start?return_to=/settings")

	rec := httptest.NewRecorder()
	result, err := f.flow.Callback(rec, callbackRequest(c, "code=abc&state="+url.QueryEscape(state)))
	require.NoError(t, err)

	assert.Equal(t, "/settings", result.ReturnTo)
	assert.Equal(t, storage.ProviderGoogle, result.Provider)
	assert.Equal(t, "user-1", result.Login.User.ID)
	assert.Equal(t, storage.ProviderGoogle, f.auth.tag)
	assert.Equal(t, "abc", f.auth.last.Code)
	assert.NotEmpty(t, f.auth.last.Verifier)
	assert.NotEmpty(t, f.auth.last.Nonce)
	assert.True(t, clearedChallenge(rec))
}

func TestFlow_CallbackDefaultReturnTo(t *testing.T) {
	f := newFlowFixture(t)
	c, state := f.start(t, storage.ProviderGitHub, "/auth/github/start?return_to=https://evil.example")

	result, err := f.flow.Callback(httptest.NewRecorder(), callbackRequest(c, "code=abc&state="+url.QueryEscape(state)))
	require.NoError(t, err)
	assert.Equal(t, "/profile", result.ReturnTo)
}

func TestFlow_CallbackRejections(t *testing.T) {
	tests := []struct {
		name       string
		withCookie bool
		query      func(state string) string
		wantErr    error
	}{
		{
			name:       "wrong state",
			withCookie: true,
			query:      func(string) string { return "code=abc&state=forged" },
			wantErr:    authn.ErrInvalidState,
		},
		{
			name:       "missing state",
			withCookie: true,
			query:      func(string) string { return "code=abc" },
			wantErr:    authn.ErrInvalidState,
		},
		{
			name:       "no stored challenge",
			withCookie: false,
			query:      func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			wantErr:    authn.ErrInvalidState,
		},
		{
			name:       "missing code",
			withCookie: true,
			query:      func(state string) string { return "state=" + url.QueryEscape(state) },
			wantErr:    authn.ErrMissingAuthorizationCode,
		},
		{
			name:       "provider error",
			withCookie: true,
			query:      func(state string) string { return "error=access_denied&state=" + url.QueryEscape(state) },
			wantErr:    authn.ErrProviderDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlowFixture(t)
			c, state := f.start(t, storage.ProviderGoogle, "/auth/google/start")
			if !tt.withCookie {
				c = nil
			}

			rec := httptest.NewRecorder()
			_, err := f.flow.Callback(rec, callbackRequest(c, tt.query(state)))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.auth.calls.Load(), "no exchange on a rejected callback")
			if tt.withCookie {
				assert.True(t, clearedChallenge(rec), "challenge erased on failure too")
			}
		})
	}
}

func TestFlow_DuplicateCallbackExchangesOnce(t *testing.T) {
	f := newFlowFixture(t)
	c, state := f.start(t, storage.ProviderGoogle, "/auth/google/start")
	query := "code=abc&state=" + url.QueryEscape(state)

	_, err := f.flow.Callback(httptest.NewRecorder(), callbackRequest(c, query))
	require.NoError(t, err)

	// The browser replays the same cookie and URL (double render, back button)
	_, err = f.flow.Callback(httptest.NewRecorder(), callbackRequest(c, query))
	assert.ErrorIs(t, err, authn.ErrInvalidState)
	assert.Equal(t, int32(1), f.auth.calls.Load())
}

func TestFlow_ExchangeErrorPropagates(t *testing.T) {
	f := newFlowFixture(t)
	f.auth.err = authn.ErrNonceMismatch
	c, state := f.start(t, storage.ProviderGoogle, "/auth/google/start")

	_, err := f.flow.Callback(httptest.NewRecorder(), callbackRequest(c, "code=abc&state="+url.QueryEscape(state)))
	assert.ErrorIs(t, err, authn.ErrNonceMismatch)
}

func TestCookieStore_Expired(t *testing.T) {
	store, err := NewCookieStore([]byte("challenge-key-0123456789abcdef!!"), time.Minute)
	require.NoError(t, err)

	c, err := NewChallenge(storage.ProviderGitHub, "/")
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, c))

	store.now = func() time.Time { return c.CreatedAt.Add(2 * time.Minute) }
	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	req.AddCookie(rec.Result().Cookies()[0])

	_, err = store.Take(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestCookieStore_RoundTrip(t *testing.T) {
	store, err := NewCookieStore([]byte("challenge-key-0123456789abcdef!!"), time.Minute)
	require.NoError(t, err)

	c, err := NewChallenge(storage.ProviderGoogle, "/x")
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, store.Save(rec, c))

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	got, err := store.Take(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, c.State, got.State)
	assert.Equal(t, c.Verifier, got.Verifier)
	assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
}
