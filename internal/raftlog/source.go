package raftlog

// Source is the read contract a Replicator uses against the leader's
// durable Raft log; the log store's own write path and compaction policy
// live elsewhere.
//
// StartIndex is the first retained index. NextIndex is one past the last
// appended index. Get returns the entry at i, or ok=false if it has been
// truncated into a snapshot. GetRange returns the contiguous half-open
// range [lo, hi). LatestSnapshot returns the most recent snapshot, if
// the state machine has ever produced one.
type Source interface {
	StartIndex() uint64
	NextIndex() uint64
	Get(index uint64) (Entry, bool)
	GetRange(lo, hi uint64) ([]Entry, error)
	LatestSnapshot() (Snapshot, bool)
}
