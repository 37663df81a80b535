// Package progress holds the leader's view of one follower's replication
// state. Its indices and RPC timestamps are written only by that
// follower's Replicator goroutine (attendingVote is set through
// SetAttendingVote by the membership subsystem); every other reader (a commit-index calculator, a metrics scrape) sees an
// eventually-consistent snapshot through the getters below.
package progress

import (
	"sync"
	"time"
)

// Follower is the leader's shared, mutex-guarded view of one follower's
// progress. The zero value is not ready for use; construct with New.
type Follower struct {
	mu sync.RWMutex

	nextIndex     uint64
	matchIndex    uint64
	attendingVote bool

	lastRPCSend     time.Time
	lastRPCResponse time.Time
}

// New returns a Follower initialized to the leader's current log tip, with
// matchIndex at zero, as a freshly added peer has replicated nothing yet.
func New(nextIndex uint64, attendingVote bool) *Follower {
	return &Follower{
		nextIndex:     nextIndex,
		attendingVote: attendingVote,
	}
}

func (f *Follower) NextIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nextIndex
}

func (f *Follower) MatchIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.matchIndex
}

func (f *Follower) AttendingVote() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attendingVote
}

func (f *Follower) LastRPCSend() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastRPCSend
}

func (f *Follower) LastRPCResponse() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastRPCResponse
}

// SetAttendingVote flips whether this follower currently counts toward
// quorum. Called by the membership/election subsystem, an external
// collaborator here.
func (f *Follower) SetAttendingVote(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attendingVote = v
}

// UpdateLastRPCSend records that an RPC was just dispatched to this
// follower. Only the owning Replicator goroutine calls this.
func (f *Follower) UpdateLastRPCSend(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRPCSend = t
}

// UpdateLastRPCResponse records that a reply was just received from this
// follower. Only the owning Replicator goroutine calls this.
func (f *Follower) UpdateLastRPCResponse(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRPCResponse = t
}

// AdvanceOnSuccess sets matchIndex := newNextIndex-1 and nextIndex :=
// newNextIndex. Only valid when newNextIndex > the current nextIndex; the
// caller (Replicator.handleReply) is responsible for treating a regression
// as fatal before calling this.
func (f *Follower) AdvanceOnSuccess(newNextIndex uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchIndex = newNextIndex - 1
	f.nextIndex = newNextIndex
}

// Backoff applies an INCONSISTENCY reply's follower-supplied nextIndex.
// matchIndex is left untouched; it never moves backward.
func (f *Follower) Backoff(newNextIndex uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIndex = newNextIndex
}

// AdvanceOnSnapshot sets matchIndex := snapshotIndex, nextIndex :=
// snapshotIndex+1 after a fully successful snapshot install.
func (f *Follower) AdvanceOnSnapshot(snapshotIndex uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchIndex = snapshotIndex
	f.nextIndex = snapshotIndex + 1
}
