package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen   = 180
	maxMethodLen  = 10
	maxSessionLen = 26
)

// logSafe drops control characters, line breaks included, and truncates to limit runes.
func logSafe(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute prepares a route or path for a log field. Empty routes log as "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteLen)
}

// SanitizeMethod prepares an HTTP method for a log field.
func SanitizeMethod(method string) string {
	return strings.ToUpper(logSafe(method, maxMethodLen))
}

// SanitizeSessionID keeps at most one ULID's worth of a session id.
func SanitizeSessionID(id string) string {
	return logSafe(strings.TrimSpace(id), maxSessionLen)
}
