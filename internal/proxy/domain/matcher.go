package domain

import "strings"

// Matches reports whether pattern covers host: host equals pattern, or host
// ends with "." + pattern. The dot boundary is required, so "notexample.com"
// is not covered by "example.com" while "www.example.com" is.
//
// Both arguments are expected to be normalized already (lowercase, no port,
// no trailing dot). Pure function.
func Matches(host, pattern string) bool {
	if pattern == "" {
		return false
	}
	if host == pattern {
		return true
	}
	return len(host) > len(pattern) &&
		host[len(host)-len(pattern)-1] == '.' &&
		strings.HasSuffix(host, pattern)
}
