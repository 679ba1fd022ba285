package domain

// ConnectionAttempt describes one incoming proxy request at the point the
// target host is known and before anything is dialed. It is created by the
// transport and discarded once a verdict has been acted on.
type ConnectionAttempt struct {
	RawHost    string // host as requested, possibly with a port
	Host       string // normalized host (lowercase, port stripped); empty if unparsable
	Method     string // request method, e.g. CONNECT or GET
	Target     string // request target as sent on the request line
	IsConnect  bool   // true for CONNECT tunnels
	ClientAddr string
}

// HasHost reports whether a target host could be determined.
func (a ConnectionAttempt) HasHost() bool { return a.Host != "" }
