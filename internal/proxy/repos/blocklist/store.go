package blocklist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-proxy/internal/proxy/common/clock"
	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist/parsers"
)

// ErrNoSource is returned by NewStore when Options.Source is nil.
var ErrNoSource = errors.New("blocklist: source is required")

// reloadKey collapses concurrent Reload calls into one fetch.
const reloadKey = "reload"

// Options configures a Store.
type Options struct {
	Source   Source            // required
	Parse    ParseFunc         // defaults to parsers.ParsePlainList
	Bloom    BloomFactory      // optional prefilter; nil disables it
	FPRate   float64           // target Bloom false-positive rate
	NewCache MatchCacheFactory // optional per-snapshot memo; nil disables it
	Clock    clock.Clock       // defaults to clock.RealClock
	Logger   log.Logger        // defaults to the global logger
}

// Store owns the current blocklist snapshot. Readers obtain the snapshot with
// Current and never block; Reload builds a replacement and publishes it with
// a single atomic swap. A failed reload leaves the previous snapshot in place.
type Store struct {
	source   Source
	parse    ParseFunc
	bloom    BloomFactory
	fpRate   float64
	newCache MatchCacheFactory
	clock    clock.Clock
	logger   log.Logger

	current  atomic.Pointer[Snapshot]
	group    singleflight.Group
	reloads  atomic.Uint64
	failures atomic.Uint64
}

// NewStore returns a Store holding an empty snapshot. Call Reload to load
// the list from its source.
func NewStore(opts Options) (*Store, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	s := &Store{
		source:   opts.Source,
		parse:    opts.Parse,
		bloom:    opts.Bloom,
		fpRate:   opts.FPRate,
		newCache: opts.NewCache,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if s.parse == nil {
		s.parse = parsers.ParsePlainList
	}
	if s.clock == nil {
		s.clock = &clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	s.logger = s.logger.With(map[string]any{"source": s.source.Name()})
	s.current.Store(emptySnapshot(s.source.Name()))
	return s, nil
}

// Current returns the published snapshot.
func (s *Store) Current() domain.Blocklist { return s.current.Load() }

// Reload fetches and parses the source and publishes the result.
// Concurrent callers share a single fetch. On failure the previous snapshot
// stays current and is returned together with the error.
func (s *Store) Reload(ctx context.Context) (domain.Blocklist, error) {
	v, err, _ := s.group.Do(reloadKey, func() (any, error) {
		return s.reload(ctx)
	})
	if err != nil {
		return s.Current(), err
	}
	return v.(*Snapshot), nil
}

func (s *Store) reload(ctx context.Context) (*Snapshot, error) {
	data, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, s.fail(fmt.Errorf("fetch blocklist: %w", err))
	}

	cur := s.current.Load()
	digest := sha256.Sum256(data)
	if digest == cur.digest {
		s.logger.Debug(map[string]any{"version": cur.version}, "blocklist unchanged")
		return cur, nil
	}

	now := s.clock.Now()
	entries, err := s.parse(bytes.NewReader(data), s.source.Name(), s.logger, now)
	if err != nil {
		return nil, s.fail(fmt.Errorf("parse blocklist: %w", err))
	}

	var cache MatchCache
	if s.newCache != nil {
		if cache, err = s.newCache(); err != nil {
			s.logger.Warn(map[string]any{"error": err}, "match cache disabled for snapshot")
			cache = nil
		}
	}

	next := newSnapshot(snapshotParams{
		entries:  entries,
		bloom:    s.bloom,
		fpRate:   s.fpRate,
		cache:    cache,
		version:  cur.version + 1,
		loadedAt: now,
		source:   s.source.Name(),
		digest:   digest,
	})
	s.current.Store(next)
	s.reloads.Add(1)
	s.logger.Info(map[string]any{
		"version":   next.version,
		"entries":   next.Len(),
		"loaded_at": next.LoadedAt(),
	}, "blocklist loaded")
	return next, nil
}

func (s *Store) fail(err error) error {
	s.failures.Add(1)
	cur := s.current.Load()
	s.logger.Warn(map[string]any{
		"error":   err,
		"version": cur.version,
		"entries": cur.Len(),
	}, "blocklist reload failed, keeping previous list")
	return err
}

// Stats reports the store's counters and the current snapshot's shape.
func (s *Store) Stats() Stats {
	cur := s.current.Load()
	return Stats{
		Version:  cur.version,
		Entries:  cur.Len(),
		Source:   cur.Source(),
		LoadedAt: cur.LoadedAt(),
		Reloads:  s.reloads.Load(),
		Failures: s.failures.Load(),
		Cache:    cur.cacheStats(),
	}
}
