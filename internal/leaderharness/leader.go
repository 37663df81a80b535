package leaderharness

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yucl80/ratis/internal/coordinator"
	"github.com/yucl80/ratis/internal/metrics"
	"github.com/yucl80/ratis/internal/progress"
	"github.com/yucl80/ratis/internal/raftlog"
	"github.com/yucl80/ratis/internal/replicator"
	"github.com/yucl80/ratis/internal/transport"
)

// Leader owns one Replicator per configured peer and the shared
// FollowerProgress each one writes.
type Leader struct {
	leaderID     string
	log          raftlog.Source
	transport    transport.Transport
	coord        coordinator.Coordinator
	cfg          replicator.Config
	snapshotRoot string
	logger       *zap.Logger
	registerer   prometheus.Registerer

	mu    sync.Mutex
	peers map[string]*peerHandle
}

type peerHandle struct {
	progress *progress.Follower
	repl     *replicator.Replicator
	cancel   context.CancelFunc
	done     chan struct{}
}

// New returns a Leader ready to accept peers via AddPeer.
func New(leaderID string, log raftlog.Source, tr transport.Transport, coord coordinator.Coordinator, cfg replicator.Config, snapshotRoot string, logger *zap.Logger, registerer prometheus.Registerer) *Leader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Leader{
		leaderID:     leaderID,
		log:          log,
		transport:    tr,
		coord:        coord,
		cfg:          cfg,
		snapshotRoot: snapshotRoot,
		logger:       logger,
		registerer:   registerer,
		peers:        make(map[string]*peerHandle),
	}
}

// AddPeer spawns a Replicator for peerID, starting it at the leader's
// current log tip with matchIndex at zero.
func (l *Leader) AddPeer(ctx context.Context, peerID string, attendingVote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.peers[peerID]; exists {
		return
	}

	prog := progress.New(l.log.NextIndex(), attendingVote)
	m := metrics.NewReplicatorMetrics(peerID)
	if l.registerer != nil {
		// A peer removed earlier and added again reuses the same series;
		// drop the earlier registration before registering the new one.
		for _, c := range []prometheus.Collector{
			m.AppendEntriesSent, m.HeartbeatsSent, m.Retries, m.SnapshotChunksSent,
			m.StepDownsObserved, m.NextIndex, m.MatchIndex,
		} {
			l.registerer.Unregister(c)
		}
		m.MustRegister(l.registerer)
	}

	repl := replicator.New(l.cfg, peerID, l.leaderID, l.coord.CurrentTerm(), l.log, l.transport, prog, l.coord, l.snapshotRoot, m, l.logger)

	peerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h := &peerHandle{progress: prog, repl: repl, cancel: cancel, done: done}
	l.peers[peerID] = h

	go func() {
		defer close(done)
		if err := repl.Run(peerCtx); err != nil {
			l.logger.Error("replicator exited with fatal error", zap.String("peer", peerID), zap.Error(err))
		}
	}()
}

// RemovePeer stops and forgets peerID's Replicator, e.g. when it leaves
// cluster configuration.
func (l *Leader) RemovePeer(peerID string) {
	l.mu.Lock()
	h, ok := l.peers[peerID]
	if ok {
		delete(l.peers, peerID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	h.repl.Stop()
	h.cancel()
	<-h.done
}

// NotifyAppend wakes every peer's Replicator so it can pick up newly
// appended entries immediately instead of waiting out its heartbeat
// period.
func (l *Leader) NotifyAppend() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.peers {
		h.repl.NotifyAppend()
	}
}

// Progress returns the FollowerProgress for peerID, if known.
func (l *Leader) Progress(peerID string) (*progress.Follower, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.peers[peerID]
	if !ok {
		return nil, false
	}
	return h.progress, true
}

// Close stops every peer's Replicator and waits for its goroutine to
// exit.
func (l *Leader) Close() {
	l.mu.Lock()
	peers := make([]*peerHandle, 0, len(l.peers))
	for _, h := range l.peers {
		peers = append(peers, h)
	}
	l.peers = make(map[string]*peerHandle)
	l.mu.Unlock()

	for _, h := range peers {
		h.repl.Stop()
		h.cancel()
		<-h.done
	}
}
