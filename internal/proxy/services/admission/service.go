package admission

import (
	"context"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// Service is the Policy used by the proxy. It reads the current blocklist
// snapshot from the store and applies Decide.
type Service struct {
	store            BlocklistStore
	reloadPerRequest bool
	onUnparsable     domain.UnparsablePolicy
	logger           log.Logger
}

type ServiceOptions struct {
	Store BlocklistStore
	// ReloadPerRequest refreshes the list before every decision. A failed
	// refresh falls back to the current snapshot.
	ReloadPerRequest bool
	OnUnparsable     domain.UnparsablePolicy
	Logger           log.Logger
}

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Service{
		store:            opts.Store,
		reloadPerRequest: opts.ReloadPerRequest,
		onUnparsable:     opts.OnUnparsable,
		logger:           logger,
	}
}

// Admit implements Policy.
func (s *Service) Admit(ctx context.Context, rawHost string) domain.Verdict {
	list := s.snapshot(ctx)
	v := Decide(rawHost, list, s.onUnparsable)

	switch {
	case v.IsRejected() && v.Host == "":
		s.logger.Info(map[string]any{"raw_host": rawHost}, "rejected request with unparsable host")
	case v.IsRejected():
		s.logger.Info(map[string]any{
			"host":    v.Host,
			"apex":    utils.GetApexDomain(v.Host),
			"entry":   v.MatchedEntry,
			"version": v.ListVersion,
		}, "blocked")
	case v.Host == "":
		s.logger.Debug(map[string]any{"raw_host": rawHost}, "allowed request with unparsable host")
	default:
		s.logger.Debug(map[string]any{"host": v.Host, "version": v.ListVersion}, "allowed")
	}
	return v
}

func (s *Service) snapshot(ctx context.Context) domain.Blocklist {
	if s.store == nil {
		return domain.EmptyBlocklist{}
	}
	if !s.reloadPerRequest {
		return s.store.Current()
	}
	list, err := s.store.Reload(ctx)
	if err != nil || list == nil {
		// the store has already logged the failure
		return s.store.Current()
	}
	return list
}

var _ Policy = (*Service)(nil)
