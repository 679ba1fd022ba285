package utils

import (
	"net"

	"golang.org/x/net/publicsuffix"
)

// GetApexDomain returns the registrable domain (eTLD+1) for host, or the
// canonical host itself when it has none (IP literals, bare TLDs, localhost).
func GetApexDomain(host string) string {
	name := CanonicalHost(host)
	if net.ParseIP(name) != nil {
		return name
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}
