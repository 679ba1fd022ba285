package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist"
)

// matchCache is an LRU-backed implementation of blocklist.MatchCache.
// It tracks basic metrics: hits, misses, and evictions.
type matchCache struct {
	lru       *lru.Cache[string, blocklist.Match]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache is a no-op MatchCache used when size <= 0.
type disabledCache struct{}

// New creates a MatchCache with the given capacity. If size <= 0, a
// disabled cache is returned that always misses.
func New(size int) (blocklist.MatchCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}
	c := &matchCache{capacity: size}
	inner, err := lru.NewWithEvict(size, func(string, blocklist.Match) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// NewFactory returns a factory producing a fresh cache of size for every
// snapshot, so a reload never serves results computed against an older list.
func NewFactory(size int) blocklist.MatchCacheFactory {
	return func() (blocklist.MatchCache, error) { return New(size) }
}

func (c *matchCache) Get(host string) (blocklist.Match, bool) {
	if m, ok := c.lru.Get(host); ok {
		c.hits.Add(1)
		return m, true
	}
	c.misses.Add(1)
	return blocklist.Match{}, false
}

func (c *matchCache) Put(host string, m blocklist.Match) { c.lru.Add(host, m) }

func (c *matchCache) Len() int { return c.lru.Len() }

func (c *matchCache) Stats() blocklist.CacheStats {
	return blocklist.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (disabledCache) Get(string) (blocklist.Match, bool) { return blocklist.Match{}, false }
func (disabledCache) Put(string, blocklist.Match)        {}
func (disabledCache) Len() int                           { return 0 }
func (disabledCache) Stats() blocklist.CacheStats        { return blocklist.CacheStats{} }

var _ blocklist.MatchCache = (*matchCache)(nil)
var _ blocklist.MatchCache = disabledCache{}
