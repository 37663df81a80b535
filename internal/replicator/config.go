package replicator

// Config holds the Replicator-local knobs read once at construction. The
// remaining timing knobs (snapshot chunk size, min election timeout, sync
// interval) live on the shared coordinator.Coordinator, since every
// Replicator on this leader must agree on them.
type Config struct {
	// BufferCapacity bounds the number of entries staged per AppendEntries
	// batch.
	BufferCapacity int
	// BatchEnabled, when false, flushes any non-empty buffer immediately
	// instead of waiting for it to fill.
	BatchEnabled bool
}

// DefaultConfig mirrors the defaults a freshly added peer gets when the
// leader process doesn't override them via flags/env.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 64,
		BatchEnabled:   true,
	}
}
