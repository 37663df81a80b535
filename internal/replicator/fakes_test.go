package replicator

import (
	"context"
	"sync"
	"time"

	"github.com/yucl80/ratis/internal/raftlog"
	"github.com/yucl80/ratis/internal/transport"
)

// fakeLog is an in-memory raftlog.Source for tests.
type fakeLog struct {
	mu           sync.Mutex
	start        uint64
	entries      []raftlog.Entry // entries[i] has Index == start+i
	snapshot     raftlog.Snapshot
	hasSnap      bool
	rangeErr     error
}

func newFakeLog(start uint64, entries ...raftlog.Entry) *fakeLog {
	return &fakeLog{start: start, entries: entries}
}

func (f *fakeLog) StartIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start
}

func (f *fakeLog) NextIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start + uint64(len(f.entries))
}

func (f *fakeLog) Get(index uint64) (raftlog.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < f.start || index >= f.start+uint64(len(f.entries)) {
		return raftlog.Entry{}, false
	}
	return f.entries[index-f.start], true
}

func (f *fakeLog) GetRange(lo, hi uint64) ([]raftlog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	out := make([]raftlog.Entry, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, f.entries[i-f.start])
	}
	return out, nil
}

func (f *fakeLog) LatestSnapshot() (raftlog.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.hasSnap
}

func (f *fakeLog) Append(entries ...raftlog.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
}

func (f *fakeLog) SetRangeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeErr = err
}

func (f *fakeLog) SetSnapshot(s raftlog.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
	f.hasSnap = true
}

func genEntries(term uint64, lo, hi uint64) []raftlog.Entry {
	out := make([]raftlog.Entry, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, raftlog.Entry{Term: term, Index: i, Payload: []byte("p")})
	}
	return out
}

// fakeCoordinator is a coordinator.Coordinator recording submitted events.
type fakeCoordinator struct {
	mu sync.Mutex

	term           uint64
	syncInterval   time.Duration
	minElection    time.Duration
	chunkMax       int

	staging  []string
	commits  []string
	stepdown []uint64
}

func newFakeCoordinator(term uint64) *fakeCoordinator {
	return &fakeCoordinator{
		term:         term,
		syncInterval: 5 * time.Millisecond,
		minElection:  40 * time.Millisecond,
		chunkMax:     128,
	}
}

func (c *fakeCoordinator) CurrentTerm() uint64                { return c.term }
func (c *fakeCoordinator) SyncInterval() time.Duration        { return c.syncInterval }
func (c *fakeCoordinator) MinElectionTimeout() time.Duration  { return c.minElection }
func (c *fakeCoordinator) SnapshotChunkMaxSize() int          { return c.chunkMax }

func (c *fakeCoordinator) SubmitStagingProgress(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staging = append(c.staging, peerID)
}

func (c *fakeCoordinator) SubmitUpdateCommit(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, peerID)
}

func (c *fakeCoordinator) SubmitStepDown(term uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepdown = append(c.stepdown, term)
}

func (c *fakeCoordinator) stepDowns() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.stepdown))
	copy(out, c.stepdown)
	return out
}

func (c *fakeCoordinator) commitEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.commits))
	copy(out, c.commits)
	return out
}

// fakeTransport is a transport.Transport recording every request and
// replying according to a caller-supplied function.
type fakeTransport struct {
	mu sync.Mutex

	appendFn func(req transport.AppendRequest) (transport.AppendReply, error)
	snapFn   func(req transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error)

	appendReqs []transport.AppendRequest
	snapReqs   []transport.InstallSnapshotRequest
}

func (t *fakeTransport) SendAppendEntries(ctx context.Context, req transport.AppendRequest) (transport.AppendReply, error) {
	t.mu.Lock()
	t.appendReqs = append(t.appendReqs, req)
	fn := t.appendFn
	t.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	// Default: accept, replying with the index just past what the request
	// covers, so a heartbeat never looks like a regressing SUCCESS.
	next := uint64(1)
	if n := len(req.Entries); n > 0 {
		next = req.Entries[n-1].Index + 1
	} else if req.Previous != nil {
		next = req.Previous.Index + 1
	}
	return transport.AppendReply{Result: transport.AppendSuccess, NextIndex: next}, nil
}

func (t *fakeTransport) SendInstallSnapshot(ctx context.Context, req transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error) {
	t.mu.Lock()
	t.snapReqs = append(t.snapReqs, req)
	fn := t.snapFn
	t.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return transport.InstallSnapshotReply{Result: transport.InstallSuccess, Success: true}, nil
}

func (t *fakeTransport) requests() []transport.AppendRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.AppendRequest, len(t.appendReqs))
	copy(out, t.appendReqs)
	return out
}
