package admission

import (
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// Decide produces the admission verdict for rawHost against list.
// It is pure: no I/O, no clock, same inputs always give the same verdict.
//
// rawHost is normalized first (port stripped, lowercased, trailing dot
// removed). A host that normalizes to nothing is governed by onUnparsable.
// A nil list blocks nothing.
func Decide(rawHost string, list domain.Blocklist, onUnparsable domain.UnparsablePolicy) domain.Verdict {
	if list == nil {
		list = domain.EmptyBlocklist{}
	}
	version := list.Version()

	host := utils.CanonicalHost(rawHost)
	if host == "" {
		if onUnparsable == domain.UnparsableReject {
			return domain.RejectVerdict("", "", version)
		}
		return domain.AllowVerdict("", version)
	}

	if entry, ok := list.Lookup(host); ok {
		return domain.RejectVerdict(host, entry.Pattern, version)
	}
	return domain.AllowVerdict(host, version)
}
