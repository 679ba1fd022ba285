package bloom

import (
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-proxy/internal/proxy/repos/blocklist"
)

// Bounds applied to requested parameters before sizing.
const (
	minCapacity   = 1
	defaultFPRate = 0.01
)

// factory implements blocklist.BloomFactory on top of bits-and-blooms.
type factory struct{}

// NewFactory returns a BloomFactory that sizes filters from capacity and FP rate.
func NewFactory() blocklist.BloomFactory { return factory{} }

// New constructs a filter for capacity items at roughly fpRate false positives.
// Out-of-range rates fall back to 1%.
func (factory) New(capacity uint64, fpRate float64) blocklist.BloomFilter {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	if fpRate <= 0 || fpRate >= 1 || math.IsNaN(fpRate) {
		fpRate = defaultFPRate
	}
	return &filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}

// filter wraps a bits-and-blooms filter. Writes happen only while a snapshot
// is built, so reads after publication need no locking.
type filter struct {
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(key []byte) { f.bf.Add(key) }

func (f *filter) MightContain(key []byte) bool { return f.bf.Test(key) }

var _ blocklist.BloomFilter = (*filter)(nil)
