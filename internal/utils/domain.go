package utils

import (
	"strings"
	"unicode"
)

// NormalizeDomain canonicalizes a caller-supplied hostname or URL to a
// lowercase host without scheme, path or trailing slash. It returns "" when
// nothing usable remains.
func NormalizeDomain(input string) string {
	value := strings.ToLower(strings.TrimSpace(input))
	value = strings.TrimPrefix(value, "https://")
	value = strings.TrimPrefix(value, "http://")

	if idx := strings.IndexAny(value, "/?#"); idx != -1 {
		value = value[:idx]
	}

	if value == "" || strings.IndexFunc(value, unicode.IsSpace) != -1 {
		return ""
	}
	return value
}
