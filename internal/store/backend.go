package store

// Backend persists the unified state and its snapshots. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs ("fs", "sqlite").
	Name() string
	// SaveState persists the full state graph, replacing any previous state.
	SaveState(state *UnifiedState) error
	// LoadState returns the persisted state, or nil when none exists.
	LoadState() (*UnifiedState, error)
	// SaveSnapshot persists a snapshot.
	SaveSnapshot(snap *Snapshot) error
	// LoadSnapshot returns the snapshot with the given ID, or nil when
	// it does not exist.
	LoadSnapshot(id string) (*Snapshot, error)
	// ListSnapshots returns the IDs of all stored snapshots.
	ListSnapshots() ([]string, error)
	// DeleteSnapshot removes a snapshot. Deleting a missing snapshot is
	// not an error.
	DeleteSnapshot(id string) error
	// Close releases backend resources.
	Close() error
}

// KV is the flat key-value surface used by the memory substrate for
// batched entry persistence.
type KV interface {
	// Put stores a value under a key, replacing any previous value.
	Put(key string, value []byte) error
	// Get returns the value for a key. The bool reports whether the key
	// exists.
	Get(key string) ([]byte, bool, error)
	// DeleteKey removes a key. Removing a missing key is not an error.
	DeleteKey(key string) error
	// Keys returns all keys with the given prefix.
	Keys(prefix string) ([]string, error)
}
