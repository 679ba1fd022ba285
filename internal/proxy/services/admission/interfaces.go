package admission

import (
	"context"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// BlocklistStore is the read side of the blocklist repository plus the
// ability to refresh it on demand.
type BlocklistStore interface {
	Current() domain.Blocklist
	Reload(ctx context.Context) (domain.Blocklist, error)
}

// Policy decides whether a connection to rawHost may proceed.
// The transport depends on this contract, not on a concrete service.
type Policy interface {
	Admit(ctx context.Context, rawHost string) domain.Verdict
}
