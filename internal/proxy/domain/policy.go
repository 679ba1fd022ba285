package domain

import (
	"fmt"
	"strings"
)

// UnparsablePolicy decides what happens to a request whose target host
// cannot be determined.
type UnparsablePolicy uint8

const (
	// UnparsableAllow admits the request (fail-open).
	UnparsableAllow UnparsablePolicy = iota
	// UnparsableReject answers with the rejection response (fail-closed).
	UnparsableReject
)

// String returns the configuration spelling of the policy.
func (p UnparsablePolicy) String() string {
	switch p {
	case UnparsableAllow:
		return "allow"
	case UnparsableReject:
		return "reject"
	default:
		return fmt.Sprintf("UnparsablePolicy(%d)", p)
	}
}

// ParseUnparsablePolicy converts "allow" or "reject" (case-insensitive).
func ParseUnparsablePolicy(s string) (UnparsablePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "":
		return UnparsableAllow, nil
	case "reject":
		return UnparsableReject, nil
	default:
		return 0, fmt.Errorf("unsupported unparsable host policy: %q", s)
	}
}
