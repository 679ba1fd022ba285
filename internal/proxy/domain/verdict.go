package domain

import "fmt"

// VerdictKind is the outcome of an admission decision.
type VerdictKind uint8

const (
	// VerdictAllow lets the connection proceed to the upstream handoff.
	VerdictAllow VerdictKind = iota
	// VerdictReject answers the client with the rejection response and closes.
	VerdictReject
)

// String returns a stable string representation of the verdict kind.
func (k VerdictKind) String() string {
	switch k {
	case VerdictAllow:
		return "allow"
	case VerdictReject:
		return "reject"
	default:
		return fmt.Sprintf("VerdictKind(%d)", k)
	}
}

const (
	// RejectStatusCode is the HTTP status sent for blocked destinations.
	RejectStatusCode = 403
	// RejectReason is the reason phrase paired with RejectStatusCode.
	RejectReason = "Forbidden"
	// RejectContentType is the media type of RejectBody.
	RejectContentType = "text/html"
	// RejectBody is the page shown to blocked clients. The wording is kept
	// byte-for-byte for compatibility with existing deployments.
	RejectBody = "<h1>403 Forbidden</h1><p>This domain has blocked by your local proxy.</p>"
)

// Header is a single response header. Headers are kept as an ordered slice
// so the encoded response is deterministic.
type Header struct {
	Name  string
	Value string
}

// Verdict is the immutable result of one admission decision.
// Pure value type, no external dependencies.
type Verdict struct {
	Kind VerdictKind

	// Rejection payload; zero for Allow.
	StatusCode int
	Reason     string
	Headers    []Header
	Body       string

	// Host is the normalized host the decision was made for.
	Host string
	// MatchedEntry is the pattern that caused a rejection, if any.
	MatchedEntry string
	// ListVersion is the blocklist snapshot version consulted.
	ListVersion uint64
}

// IsAllowed is a convenience accessor.
func (v Verdict) IsAllowed() bool { return v.Kind == VerdictAllow }

// IsRejected is a convenience accessor.
func (v Verdict) IsRejected() bool { return v.Kind == VerdictReject }

// AllowVerdict returns an Allow verdict for host.
func AllowVerdict(host string, version uint64) Verdict {
	return Verdict{Kind: VerdictAllow, Host: host, ListVersion: version}
}

// RejectVerdict returns the canned 403 rejection for host.
func RejectVerdict(host, matched string, version uint64) Verdict {
	return Verdict{
		Kind:         VerdictReject,
		StatusCode:   RejectStatusCode,
		Reason:       RejectReason,
		Headers:      []Header{{Name: "Content-Type", Value: RejectContentType}},
		Body:         RejectBody,
		Host:         host,
		MatchedEntry: matched,
		ListVersion:  version,
	}
}
