// Package leaderharness wires one coordinator.Coordinator and one
// Replicator per configured peer into a runnable leader process.
// Commit-index computation, election, and cluster membership are not
// implemented here; SimpleCoordinator only logs the events a Replicator
// submits, standing in for the real state machine a full Raft server
// would provide.
package leaderharness

import (
	"time"

	"go.uber.org/zap"

	"github.com/yucl80/ratis/internal/coordinator"
)

// SimpleCoordinator is a minimal coordinator.Coordinator that logs every
// submitted event instead of computing a commit index. It is safe for
// concurrent use by every peer's Replicator goroutine.
type SimpleCoordinator struct {
	term                 uint64
	syncInterval         time.Duration
	minElectionTimeout   time.Duration
	snapshotChunkMaxSize int

	logger *zap.Logger

	onStepDown func(term uint64)
}

var _ coordinator.Coordinator = (*SimpleCoordinator)(nil)

// Config bundles the timing knobs a SimpleCoordinator exposes to every
// Replicator it owns.
type Config struct {
	Term                 uint64
	SyncInterval         time.Duration
	MinElectionTimeout   time.Duration
	SnapshotChunkMaxSize int
}

// NewSimpleCoordinator returns a coordinator fixed at cfg.Term. onStepDown,
// if non-nil, is invoked when any Replicator observes a higher term; a
// full server would use this to transition out of leadership.
func NewSimpleCoordinator(cfg Config, logger *zap.Logger, onStepDown func(term uint64)) *SimpleCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleCoordinator{
		term:                 cfg.Term,
		syncInterval:         cfg.SyncInterval,
		minElectionTimeout:   cfg.MinElectionTimeout,
		snapshotChunkMaxSize: cfg.SnapshotChunkMaxSize,
		logger:               logger.With(zap.String("component", "coordinator")),
		onStepDown:           onStepDown,
	}
}

func (c *SimpleCoordinator) CurrentTerm() uint64               { return c.term }
func (c *SimpleCoordinator) SyncInterval() time.Duration       { return c.syncInterval }
func (c *SimpleCoordinator) MinElectionTimeout() time.Duration { return c.minElectionTimeout }
func (c *SimpleCoordinator) SnapshotChunkMaxSize() int         { return c.snapshotChunkMaxSize }

func (c *SimpleCoordinator) SubmitStagingProgress(peerID string) {
	c.logger.Debug("staging progress", zap.String("peer", peerID))
}

func (c *SimpleCoordinator) SubmitUpdateCommit(peerID string) {
	c.logger.Debug("update commit", zap.String("peer", peerID))
}

func (c *SimpleCoordinator) SubmitStepDown(term uint64) {
	c.logger.Warn("stepping down: higher term observed", zap.Uint64("term", term))
	if c.onStepDown != nil {
		c.onStepDown(term)
	}
}
