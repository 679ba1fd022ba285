package blocklist

import "time"

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity  int    // configured capacity (0 for disabled cache)
	Size      int    // current number of entries
	Hits      uint64 // total cache hits since construction
	Misses    uint64 // total cache misses since construction
	Evictions uint64 // total evictions since construction
}

// Stats describes the store and its current snapshot.
type Stats struct {
	Version  uint64    // current snapshot version (0 until a non-empty list was installed)
	Entries  int       // distinct patterns in the current snapshot
	Source   string    // source name
	LoadedAt time.Time // when the current snapshot was built (zero if never)
	Reloads  uint64    // snapshots installed since construction
	Failures uint64    // reloads that kept the previous snapshot
	Cache    CacheStats
}
