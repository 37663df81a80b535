// Package batch holds entries staged for the next AppendEntries request to
// one follower.
package batch

import (
	"github.com/yucl80/ratis/internal/raftlog"
	"github.com/yucl80/ratis/internal/transport"
)

// Buffer is a bounded, ordered staging area for log entries pending in the
// next AppendEntries request. It is owned by a single Replicator goroutine
// and needs no internal locking.
type Buffer struct {
	capacity int
	entries  []raftlog.Entry
}

// New returns an empty Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		entries:  make([]raftlog.Entry, 0, capacity),
	}
}

// Append adds entries to the tail. Callers ensure the total never exceeds
// capacity.
func (b *Buffer) Append(entries ...raftlog.Entry) {
	b.entries = append(b.entries, entries...)
}

// Remaining is capacity - Pending().
func (b *Buffer) Remaining() int {
	return b.capacity - len(b.entries)
}

// Pending is the number of entries currently staged.
func (b *Buffer) Pending() int {
	return len(b.entries)
}

// IsFull reports whether the buffer holds capacity entries.
func (b *Buffer) IsFull() bool {
	return len(b.entries) >= b.capacity
}

// IsEmpty reports whether the buffer holds no entries.
func (b *Buffer) IsEmpty() bool {
	return len(b.entries) == 0
}

// DrainInto builds an AppendRequest from the buffer's current contents and
// clears the buffer, atomically with respect to the single owning
// goroutine — no entry staged here is ever sent twice.
func (b *Buffer) DrainInto(previous *raftlog.TermIndex, leaderTerm uint64, leaderID, targetID string, heartbeatOrProbe bool) transport.AppendRequest {
	req := transport.AppendRequest{
		LeaderTerm:       leaderTerm,
		LeaderID:         leaderID,
		TargetID:         targetID,
		Previous:         previous,
		Entries:          b.entries,
		HeartbeatOrProbe: heartbeatOrProbe,
	}
	b.entries = make([]raftlog.Entry, 0, b.capacity)
	return req
}
