package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// CallbackPath is where every provider redirects back to
const CallbackPath = "/auth/callback"

// JoinPath appends path segments to base. Duplicate slashes between base and
// segments collapse, and a trailing slash on the last segment is kept.
func JoinPath(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	if len(segments) == 0 {
		return u.String(), nil
	}

	joined := path.Join(append([]string{"/", u.Path}, segments...)...)
	if strings.HasSuffix(segments[len(segments)-1], "/") {
		joined += "/"
	}
	u.Path = joined
	return u.String(), nil
}

// MustJoinPath is JoinPath for URLs that were validated at startup
func MustJoinPath(base string, segments ...string) string {
	joined, err := JoinPath(base, segments...)
	if err != nil {
		panic(err)
	}
	return joined
}

// CallbackURL is the redirect URI registered with providers for a deployment
// served at baseURL
func CallbackURL(baseURL string) (string, error) {
	return JoinPath(baseURL, CallbackPath)
}
