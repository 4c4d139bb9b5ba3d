package login

import (
	"net/url"
	"strings"
)

// SafeReturnTo accepts only same-origin relative paths ("/profile?tab=1").
// Anything else, including "//host" and "/\host", yields fallback.
func SafeReturnTo(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	return u.RequestURI()
}
