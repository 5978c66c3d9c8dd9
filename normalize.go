package identity

import (
	"net/url"
	"strings"
)

// NormalizeEmail returns the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SanitizeAvatar keeps http(s) and inline image URLs and drops anything else.
func SanitizeAvatar(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(raw), "data:image/") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ""
		}
		return u.String()
	default:
		return ""
	}
}
