package blocklist

import (
	"context"
	"io"
	"time"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// Source provides the raw text of a blocklist.
// Fetch returns (nil, nil) when the list does not exist; that is not an
// error and yields an empty snapshot.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// ParseFunc turns raw list text into entries attributed to source.
type ParseFunc func(r io.Reader, source string, logger log.Logger, now time.Time) ([]domain.BlockEntry, error)

// BloomFilter is the minimal interface a snapshot needs from a Bloom filter.
// Add is only called while a snapshot is being built, before it is published.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory creates Bloom filters sized for capacity and target FP rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// Match is a memoized lookup result for one host.
type Match struct {
	Entry   domain.BlockEntry
	Blocked bool
}

// MatchCache memoizes host lookups for a single snapshot. Implementations
// must be safe for concurrent use.
type MatchCache interface {
	Get(host string) (Match, bool)
	Put(host string, m Match)
	Len() int
	Stats() CacheStats
}

// MatchCacheFactory creates a fresh MatchCache for each new snapshot.
type MatchCacheFactory func() (MatchCache, error)
