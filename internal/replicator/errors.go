package replicator

import "github.com/pkg/errors"

// ErrNextIndexRegression is the fatal, unrecoverable invariant violation:
// a SUCCESS reply carried a nextIndex smaller than the one the leader
// already believed this follower was at.
var ErrNextIndexRegression = errors.New("replicator: SUCCESS reply regressed nextIndex")

// ErrStopped is returned by operations attempted after the Replicator has
// stopped.
var ErrStopped = errors.New("replicator: stopped")
