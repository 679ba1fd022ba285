package blocklist

import (
	"crypto/sha256"
	"slices"
	"strings"
	"time"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// Snapshot is an immutable, point-in-time blocklist. Once published by the
// Store it is never modified; a reload builds and installs a new one.
type Snapshot struct {
	entries  []domain.BlockEntry
	index    map[string]int // pattern -> position in entries
	bloom    BloomFilter
	cache    MatchCache
	version  uint64
	loadedAt time.Time
	source   string
	digest   [sha256.Size]byte
}

// snapshotParams carries everything needed to build a Snapshot.
type snapshotParams struct {
	entries  []domain.BlockEntry
	bloom    BloomFactory
	fpRate   float64
	cache    MatchCache
	version  uint64
	loadedAt time.Time
	source   string
	digest   [sha256.Size]byte
}

// newSnapshot indexes entries, collapsing duplicate patterns (first one wins),
// and fills the Bloom prefilter before the snapshot becomes visible.
func newSnapshot(p snapshotParams) *Snapshot {
	s := &Snapshot{
		entries:  make([]domain.BlockEntry, 0, len(p.entries)),
		index:    make(map[string]int, len(p.entries)),
		cache:    p.cache,
		version:  p.version,
		loadedAt: p.loadedAt,
		source:   p.source,
		digest:   p.digest,
	}
	for _, e := range p.entries {
		if _, dup := s.index[e.Pattern]; dup {
			continue
		}
		s.index[e.Pattern] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	if p.bloom != nil && len(s.entries) > 0 {
		bf := p.bloom.New(uint64(len(s.entries)), p.fpRate)
		for _, e := range s.entries {
			bf.Add([]byte(e.Pattern))
		}
		s.bloom = bf
	}
	return s
}

// emptySnapshot returns the version-0 snapshot a Store starts with.
func emptySnapshot(source string) *Snapshot {
	return newSnapshot(snapshotParams{source: source, digest: sha256.Sum256(nil)})
}

// Lookup returns the entry covering host, checking host itself first and then
// each parent domain. host must already be canonical.
func (s *Snapshot) Lookup(host string) (domain.BlockEntry, bool) {
	if host == "" || len(s.entries) == 0 {
		return domain.BlockEntry{}, false
	}
	if s.cache != nil {
		if m, ok := s.cache.Get(host); ok {
			return m.Entry, m.Blocked
		}
	}
	e, ok := s.walk(host)
	if s.cache != nil {
		s.cache.Put(host, Match{Entry: e, Blocked: ok})
	}
	return e, ok
}

// walk tests host and every dot-suffix of it against the index. This is
// equivalent to evaluating domain.Matches against every entry.
func (s *Snapshot) walk(host string) (domain.BlockEntry, bool) {
	candidate := host
	for {
		if s.mightContain(candidate) {
			if i, ok := s.index[candidate]; ok {
				return s.entries[i], true
			}
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			return domain.BlockEntry{}, false
		}
		candidate = candidate[dot+1:]
	}
}

// mightContain consults the Bloom prefilter; without one every candidate
// goes to the index.
func (s *Snapshot) mightContain(candidate string) bool {
	if s.bloom == nil {
		return true
	}
	return s.bloom.MightContain([]byte(candidate))
}

// Entries returns a copy of the patterns in first-seen order.
func (s *Snapshot) Entries() []domain.BlockEntry { return slices.Clone(s.entries) }

func (s *Snapshot) Len() int            { return len(s.entries) }
func (s *Snapshot) Version() uint64     { return s.version }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
func (s *Snapshot) Source() string      { return s.source }

// cacheStats reports memo metrics for this snapshot.
func (s *Snapshot) cacheStats() CacheStats {
	if s.cache == nil {
		return CacheStats{}
	}
	return s.cache.Stats()
}

var _ domain.Blocklist = (*Snapshot)(nil)
