package utils

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// CanonicalHost returns a host in the form used for blocklist matching:
// - Trimmed of surrounding whitespace
// - Port suffix removed (host:port and [v6]:port forms)
// - Lowercased, no trailing dot
// - Non-ASCII labels converted to their punycode (xn--) form
//
// An empty result means the host could not be determined.
func CanonicalHost(raw string) string {
	host := StripPort(strings.TrimSpace(raw))
	host = strings.ToLower(host)
	for strings.HasSuffix(host, ".") {
		host = strings.TrimSuffix(host, ".")
	}
	if !isASCII(host) {
		if ascii, err := idna.Punycode.ToASCII(host); err == nil {
			host = ascii
		}
	}
	return host
}

// StripPort removes a trailing ":port" from hostport. Bracketed IPv6
// literals lose their brackets; a bare IPv6 literal (more than one colon,
// no brackets) is returned unchanged because it carries no port.
func StripPort(hostport string) string {
	if strings.HasPrefix(hostport, "[") {
		if end := strings.IndexByte(hostport, ']'); end > 0 {
			return hostport[1:end]
		}
		return hostport
	}
	if strings.Count(hostport, ":") == 1 {
		return hostport[:strings.IndexByte(hostport, ':')]
	}
	return hostport
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
