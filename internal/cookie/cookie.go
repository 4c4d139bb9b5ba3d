package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/nimbus/internal/envutil"
	"github.com/dgellow/nimbus/internal/log"
)

// Cookie names used by nimbus
const (
	SessionCookie   = "token"
	CSRFCookie      = "csrf_secret"
	ChallengeCookie = "oauth_challenge"
)

func write(w http.ResponseWriter, name, value string, maxAge time.Duration, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: sameSite,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// SetSession sets the signed session cookie. It is never readable by page script.
func SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	write(w, SessionCookie, value, maxAge, http.SameSiteStrictMode)

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   !envutil.IsDev(),
		"sameSite": "Strict",
	})
}

// SetCSRF sets the signed CSRF secret cookie. Clients never read it; they
// receive the derived token in a response body instead.
func SetCSRF(w http.ResponseWriter, value string, maxAge time.Duration) {
	write(w, CSRFCookie, value, maxAge, http.SameSiteStrictMode)
}

// SetChallenge sets the sealed login challenge cookie. It is Lax so the
// browser sends it on the top-level redirect back from the provider.
func SetChallenge(w http.ResponseWriter, value string, maxAge time.Duration) {
	write(w, ChallengeCookie, value, maxAge, http.SameSiteLaxMode)
}

// Clear removes a cookie by setting MaxAge to -1, keeping the security
// attributes it was set with
func Clear(w http.ResponseWriter, name string) {
	sameSite := http.SameSiteStrictMode
	if name == ChallengeCookie {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: sameSite,
		MaxAge:   -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// ClearCSRF removes the CSRF secret cookie
func ClearCSRF(w http.ResponseWriter) {
	Clear(w, CSRFCookie)
}

// ClearChallenge removes the login challenge cookie
func ClearChallenge(w http.ResponseWriter) {
	Clear(w, ChallengeCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetCSRF retrieves the CSRF secret cookie value
func GetCSRF(r *http.Request) (string, error) {
	return Get(r, CSRFCookie)
}

// GetChallenge retrieves the sealed login challenge cookie value
func GetChallenge(r *http.Request) (string, error) {
	return Get(r, ChallengeCookie)
}
