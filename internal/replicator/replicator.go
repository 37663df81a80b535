// Package replicator implements the per-follower log-replication worker a
// Raft leader spawns for each peer: continuous AppendEntries propagation,
// heartbeats, snapshot fallback, and progress reporting to the leader's
// commit-tracking state machine. Each Replicator runs as its own
// goroutine, driven by a context.Context.
package replicator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yucl80/ratis/internal/batch"
	"github.com/yucl80/ratis/internal/coordinator"
	"github.com/yucl80/ratis/internal/metrics"
	"github.com/yucl80/ratis/internal/progress"
	"github.com/yucl80/ratis/internal/raftlog"
	"github.com/yucl80/ratis/internal/snapshotstream"
	"github.com/yucl80/ratis/internal/transport"
)

// Replicator drives one follower toward log convergence. Create one per
// peer when this server becomes leader with that peer in the
// configuration; Stop it when the server steps down, the peer leaves
// configuration, or the server shuts down.
type Replicator struct {
	peerID     string
	leaderID   string
	leaderTerm uint64

	log           raftlog.Source
	transport     transport.Transport
	follower      *progress.Follower
	coord         coordinator.Coordinator
	snapshotRoot  string
	cfg           Config
	metrics       *metrics.ReplicatorMetrics
	logger        *zap.Logger

	buffer *batch.Buffer

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	notifyCh chan struct{}
}

// New constructs a Replicator for peerID. leaderTerm is fixed for the
// lifetime of this Replicator: if any reply's term exceeds it, a
// StepDown event is emitted and the Replicator stops. snapshotRoot is the
// directory snapshot file paths in raftlog.Snapshot.Files are relative to.
func New(
	cfg Config,
	peerID, leaderID string,
	leaderTerm uint64,
	log raftlog.Source,
	tr transport.Transport,
	follower *progress.Follower,
	coord coordinator.Coordinator,
	snapshotRoot string,
	m *metrics.ReplicatorMetrics,
	logger *zap.Logger,
) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replicator{
		peerID:       peerID,
		leaderID:     leaderID,
		leaderTerm:   leaderTerm,
		log:          log,
		transport:    tr,
		follower:     follower,
		coord:        coord,
		snapshotRoot: snapshotRoot,
		cfg:          cfg,
		metrics:      m,
		logger:       logger.With(zap.String("peer", peerID)),
		buffer:       batch.New(cfg.BufferCapacity),
		stopCh:       make(chan struct{}),
		notifyCh:     make(chan struct{}, 1),
	}
	return r
}

// State returns the Replicator's current lifecycle state.
func (r *Replicator) State() State {
	return State(r.state.Load())
}

func (r *Replicator) isRunning() bool {
	return r.state.Load() == int32(StateRunning)
}

// Stop asks the tick loop to exit at its next cancellation point. Stop is
// idempotent and never blocks; call Run's caller should still wait for
// Run to return if it needs to know the loop has fully exited.
func (r *Replicator) Stop() {
	r.stopOnce.Do(func() {
		r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(r.stopCh)
	})
}

// NotifyAppend wakes the tick loop if it is sleeping, so it can pick up
// newly appended entries instead of waiting out the rest of the heartbeat
// period. Safe to call from any goroutine; a burst of calls collapses to
// a single wakeup.
func (r *Replicator) NotifyAppend() {
	select {
	case r.notifyCh <- struct{}{}:
	default:
	}
}

// Run executes the tick loop until Stop is called, ctx is canceled, or a
// fatal protocol-invariant violation is observed. It returns nil on clean
// shutdown (via Stop or ctx) and a non-nil error only on a fatal
// violation (ErrNextIndexRegression).
func (r *Replicator) Run(ctx context.Context) error {
	defer r.state.Store(int32(StateStopped))

	for {
		if ctx.Err() != nil || !r.isRunning() {
			return nil
		}

		if r.shouldSend() {
			if snap, ok := r.shouldInstallSnapshot(); ok {
				r.logger.Info("follower behind log start, installing snapshot",
					zap.Uint64("snapshot_index", snap.TermIndex.Index),
					zap.Uint64("follower_next_index", r.follower.NextIndex()),
				)
				reply, err := r.installSnapshot(ctx, snap)
				if err != nil {
					return nil
				}
				if reply != nil && reply.Result == transport.InstallNotLeader {
					r.checkResponseTerm(reply.Term)
				}
			} else if req, send := r.createRequest(ctx); send {
				reply, err := r.sendWithRetries(ctx, req)
				if err != nil {
					return nil
				}
				if fatalErr := r.handleReply(reply); fatalErr != nil {
					r.logger.Error("fatal replication invariant violation", zap.Error(fatalErr))
					r.Stop()
					return fatalErr
				}
			}
		}

		if ctx.Err() != nil || !r.isRunning() {
			return nil
		}

		if wait := r.heartbeatRemaining(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-r.stopCh:
				timer.Stop()
			case <-r.notifyCh:
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

func (r *Replicator) shouldSend() bool {
	return r.follower.NextIndex() < r.log.NextIndex() || r.heartbeatDue()
}

func (r *Replicator) heartbeatDue() bool {
	return r.heartbeatRemaining() <= 0
}

func (r *Replicator) heartbeatRemaining() time.Duration {
	last := r.follower.LastRPCSend()
	if last.IsZero() {
		return 0
	}
	deadline := last.Add(r.coord.MinElectionTimeout() / 2)
	return time.Until(deadline)
}

// previous resolves the TermIndex immediately preceding the follower's
// nextIndex, falling back to the latest snapshot's tip if that entry has
// been truncated away, and to nil (absent) at leader genesis.
func (r *Replicator) previous() *raftlog.TermIndex {
	nextIdx := r.follower.NextIndex()
	if nextIdx == 0 {
		return nil
	}
	if entry, ok := r.log.Get(nextIdx - 1); ok {
		return &raftlog.TermIndex{Term: entry.Term, Index: entry.Index}
	}
	if snap, ok := r.log.LatestSnapshot(); ok {
		ti := snap.TermIndex
		return &ti
	}
	return nil
}

// createRequest grows the buffer with newly available entries and decides
// whether to send this tick. It returns ok=false when there is nothing to
// send yet (no buffered entries and no due heartbeat). A
// GetRange failure waits out coord.SyncInterval() before returning false,
// the same backoff sendWithRetries applies to transport errors, so a log
// store that's failing at genesis (no LastRPCSend recorded yet, so the
// heartbeat wait would otherwise be skipped) doesn't spin the tick loop.
func (r *Replicator) createRequest(ctx context.Context) (transport.AppendRequest, bool) {
	previous := r.previous()
	leaderNext := r.log.NextIndex()
	next := r.follower.NextIndex() + uint64(r.buffer.Pending())

	toSend := false
	if leaderNext > next {
		remaining := r.buffer.Remaining()
		if remaining > 0 {
			num := uint64(remaining)
			if avail := leaderNext - next; avail < num {
				num = avail
			}
			entries, err := r.log.GetRange(next, next+num)
			if err != nil {
				r.logger.Error("failed to read log range", zap.Uint64("lo", next), zap.Uint64("hi", next+num), zap.Error(err))
				r.waitBackoff(ctx)
				return transport.AppendRequest{}, false
			}
			r.buffer.Append(entries...)
		}
	}
	// Send a full buffer, any buffered entry when batching is off, or a
	// partial buffer once it holds everything up to the log's tip.
	if !r.buffer.IsEmpty() {
		caughtUp := r.follower.NextIndex()+uint64(r.buffer.Pending()) >= leaderNext
		toSend = r.buffer.IsFull() || !r.cfg.BatchEnabled || caughtUp
	}

	if toSend || r.heartbeatDue() {
		heartbeatOrProbe := r.buffer.IsEmpty()
		req := r.buffer.DrainInto(previous, r.leaderTerm, r.leaderID, r.peerID, heartbeatOrProbe)
		return req, true
	}
	return transport.AppendRequest{}, false
}

// waitBackoff blocks for coord.SyncInterval(), or until ctx is canceled or
// Stop is called, whichever comes first.
func (r *Replicator) waitBackoff(ctx context.Context) {
	timer := time.NewTimer(r.coord.SyncInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-r.stopCh:
	case <-timer.C:
	}
}

// sendWithRetries sends req, retrying the identical request after
// coord.SyncInterval() on any transport error. It never rebuilds the
// request: the follower side is idempotent on (term, previous,
// entries[0].index). ctx cancellation and Stop both terminate the retry
// loop immediately without a further retry.
func (r *Replicator) sendWithRetries(ctx context.Context, req transport.AppendRequest) (transport.AppendReply, error) {
	bo := backoff.NewConstantBackOff(r.coord.SyncInterval())

	for {
		if ctx.Err() != nil {
			return transport.AppendReply{}, ctx.Err()
		}
		if !r.isRunning() {
			return transport.AppendReply{}, ErrStopped
		}

		r.follower.UpdateLastRPCSend(time.Now())
		reply, err := r.transport.SendAppendEntries(ctx, req)
		if err == nil {
			r.follower.UpdateLastRPCResponse(time.Now())
			if r.metrics != nil {
				if req.IsHeartbeat() {
					r.metrics.HeartbeatsSent.Inc()
				} else {
					r.metrics.AppendEntriesSent.Inc()
				}
			}
			return reply, nil
		}

		if ctx.Err() != nil {
			return transport.AppendReply{}, ctx.Err()
		}
		r.logger.Warn("append entries failed, will retry", zap.Error(err))
		if r.metrics != nil {
			r.metrics.Retries.Inc()
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return transport.AppendReply{}, ctx.Err()
		case <-r.stopCh:
			timer.Stop()
			return transport.AppendReply{}, ErrStopped
		case <-timer.C:
		}
	}
}

// handleReply applies one AppendReply to follower progress and the leader
// coordinator. It returns a non-nil error only for the fatal
// nextIndex-regression case.
func (r *Replicator) handleReply(reply transport.AppendReply) error {
	switch reply.Result {
	case transport.AppendSuccess:
		oldNext := r.follower.NextIndex()
		n := reply.NextIndex
		if n < oldNext {
			return errors.Wrapf(ErrNextIndexRegression,
				"peer=%s reply.nextIndex=%d follower.nextIndex=%d", r.peerID, n, oldNext)
		}
		if n > oldNext {
			r.follower.AdvanceOnSuccess(n)
			r.updateIndexMetrics()
			if r.follower.AttendingVote() {
				r.coord.SubmitUpdateCommit(r.peerID)
			} else {
				r.coord.SubmitStagingProgress(r.peerID)
			}
		}
	case transport.AppendNotLeader:
		r.checkResponseTerm(reply.Term)
	case transport.AppendInconsistency:
		r.follower.Backoff(reply.NextIndex)
		r.updateIndexMetrics()
	case transport.AppendUnrecognized:
		r.logger.Warn("received UNRECOGNIZED append reply")
	}
	return nil
}

func (r *Replicator) checkResponseTerm(term uint64) {
	if r.follower.AttendingVote() && term > r.leaderTerm {
		if r.metrics != nil {
			r.metrics.StepDownsObserved.Inc()
		}
		r.coord.SubmitStepDown(term)
		r.Stop()
	}
}

// shouldInstallSnapshot reports whether this follower needs a snapshot
// instead of an AppendEntries to catch up: either it's behind the log's
// retained start, or the log holds nothing at all but a snapshot exists.
func (r *Replicator) shouldInstallSnapshot() (raftlog.Snapshot, bool) {
	if r.follower.NextIndex() >= r.log.NextIndex() {
		return raftlog.Snapshot{}, false
	}
	snap, hasSnap := r.log.LatestSnapshot()
	if !hasSnap {
		return raftlog.Snapshot{}, false
	}
	startIndex := r.log.StartIndex()
	emptyLog := startIndex == r.log.NextIndex()
	if r.follower.NextIndex() < startIndex || emptyLog {
		return snap, true
	}
	return raftlog.Snapshot{}, false
}

// installSnapshot drives one full InstallSnapshot stream for snap. A nil
// reply with a nil error means a transport/IO failure occurred mid-stream
// and the caller should simply retry snapshot install on the next tick.
func (r *Replicator) installSnapshot(ctx context.Context, snap raftlog.Snapshot) (*transport.InstallSnapshotReply, error) {
	streamer, err := snapshotstream.New(r.snapshotRoot, snap, r.coord.SnapshotChunkMaxSize())
	if err != nil {
		r.logger.Warn("failed to open snapshot for streaming", zap.Error(err))
		return nil, nil
	}
	defer streamer.Close()

	var lastReply *transport.InstallSnapshotReply
	for {
		req, ok, err := streamer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("snapshot read failed mid-stream", zap.Error(err))
			return nil, nil
		}
		if !ok {
			break
		}
		req.LeaderID = r.leaderID
		req.TargetID = r.peerID

		r.follower.UpdateLastRPCSend(time.Now())
		reply, err := r.transport.SendInstallSnapshot(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("install snapshot rpc failed", zap.Error(err))
			return nil, nil
		}
		r.follower.UpdateLastRPCResponse(time.Now())
		if r.metrics != nil {
			r.metrics.SnapshotChunksSent.Inc()
		}

		lastReply = &reply
		if !reply.Success {
			return lastReply, nil
		}
	}

	if lastReply != nil {
		r.follower.AdvanceOnSnapshot(snap.TermIndex.Index)
		r.updateIndexMetrics()
		r.logger.Info("snapshot install complete", zap.Uint64("index", snap.TermIndex.Index))
	}
	return lastReply, nil
}

func (r *Replicator) updateIndexMetrics() {
	if r.metrics == nil {
		return
	}
	r.metrics.NextIndex.Set(float64(r.follower.NextIndex()))
	r.metrics.MatchIndex.Set(float64(r.follower.MatchIndex()))
}
