package emailutil

import (
	"net/mail"
	"strings"
)

// Normalize lowercases and trims an email address. Stored emails are always
// normalized so uniqueness checks are case-insensitive.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValid reports whether email is a bare address (no display name)
func IsValid(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}
