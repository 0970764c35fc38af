package waitlist

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxEmailLength = 254
	maxLocalLength = 64
	maxInputLength = 255
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lower-cases an address so that duplicates are
// detected case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail reports whether email looks like local@domain.tld within
// the RFC 5321 length limits. It expects a normalised address.
func ValidateEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	if !emailPattern.MatchString(email) {
		return false
	}
	local, _, _ := strings.Cut(email, "@")
	return len(local) <= maxLocalLength
}

// SanitizeInput drops invalid UTF-8, trims free-form input and caps its
// length without splitting a rune.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(strings.ToValidUTF8(s, ""))
	if len(s) > maxInputLength {
		s = s[:maxInputLength]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}
