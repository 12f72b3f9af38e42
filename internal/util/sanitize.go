package util

import (
	"html"
	"net"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters from
// caller-supplied strings before they are persisted or logged.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports whether a string carries obvious injection markers.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// ValidIP reports whether the supplied string parses as an IPv4 or IPv6 address.
// Event producers are trusted for identity but not for formatting.
func ValidIP(s string) bool {
	return net.ParseIP(strings.TrimSpace(s)) != nil
}

// TruncateUserAgent caps a user-agent string to a storable length.
func TruncateUserAgent(ua string) string {
	const maxLen = 512
	ua = strings.TrimSpace(ua)
	if len(ua) > maxLen {
		return ua[:maxLen]
	}
	return ua
}
