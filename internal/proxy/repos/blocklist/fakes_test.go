package blocklist

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// --- fakes ---

type fakeSource struct {
	mu    sync.Mutex
	name  string
	data  []byte
	err   error
	calls atomic.Int32
	gate  chan struct{} // when non-nil, Fetch blocks until closed
}

func newFakeSource(data string) *fakeSource {
	return &fakeSource{name: "fake", data: []byte(data)}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

func (s *fakeSource) set(data string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == "" {
		s.data = nil
	} else {
		s.data = []byte(data)
	}
	s.err = err
}

type fakeBloom struct {
	keys  map[string]struct{}
	tests atomic.Int32
}

func (b *fakeBloom) Add(key []byte) { b.keys[string(key)] = struct{}{} }

func (b *fakeBloom) MightContain(key []byte) bool {
	b.tests.Add(1)
	_, ok := b.keys[string(key)]
	return ok
}

type fakeBloomFactory struct {
	last     *fakeBloom
	capacity uint64
	rate     float64
}

func (f *fakeBloomFactory) New(capacity uint64, fpRate float64) BloomFilter {
	f.capacity, f.rate = capacity, fpRate
	f.last = &fakeBloom{keys: make(map[string]struct{})}
	return f.last
}

type fakeCache struct {
	mu   sync.Mutex
	m    map[string]Match
	gets int
	puts int
}

func newFakeCache() *fakeCache { return &fakeCache{m: make(map[string]Match)} }

func (c *fakeCache) Get(host string) (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	m, ok := c.m[host]
	return m, ok
}

func (c *fakeCache) Put(host string, m Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.m[host] = m
}

func (c *fakeCache) Len() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.m) }

func (c *fakeCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: len(c.m)}
}

type fakeReloadable struct {
	calls atomic.Int32
	ch    chan struct{}
}

func newFakeReloadable() *fakeReloadable { return &fakeReloadable{ch: make(chan struct{}, 64)} }

func (f *fakeReloadable) Reload(context.Context) (domain.Blocklist, error) {
	f.calls.Add(1)
	select {
	case f.ch <- struct{}{}:
	default:
	}
	return domain.EmptyBlocklist{}, nil
}
