package domain

// Blocklist is a read-only, point-in-time view of the blocked patterns.
// Implementations must be immutable once published: every method call on a
// given Blocklist observes the same entries.
type Blocklist interface {
	// Lookup returns the entry covering host, if any. host must be canonical.
	Lookup(host string) (BlockEntry, bool)
	// Entries returns the patterns in first-seen order.
	Entries() []BlockEntry
	// Len returns the number of distinct patterns.
	Len() int
	// Version identifies the snapshot; it increases every time a new list is installed.
	Version() uint64
}

// EmptyBlocklist is a Blocklist with no entries. It blocks nothing.
type EmptyBlocklist struct{}

func (EmptyBlocklist) Lookup(string) (BlockEntry, bool) { return BlockEntry{}, false }
func (EmptyBlocklist) Entries() []BlockEntry            { return nil }
func (EmptyBlocklist) Len() int                         { return 0 }
func (EmptyBlocklist) Version() uint64                  { return 0 }

var _ Blocklist = EmptyBlocklist{}
