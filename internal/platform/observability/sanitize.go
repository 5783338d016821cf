package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters and caps the rune count so request data cannot forge log lines.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	count := 0
	for _, r := range value {
		if count >= limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeAccountID cleans an account id for logging.
func SanitizeAccountID(id string) string {
	return sanitizeString(id, 64)
}
