package transport

import "context"

// Transport is the RPC carrier a Replicator uses to reach one follower.
// Implementations may fail with a transport error (recoverable — the
// Replicator retries) or return ctx.Err() (terminal — never retried).
//
// Idempotence contract: SendAppendEntries must be safe to call twice with
// the same request (keyed by Term, Previous, and Entries[0].Index, when
// present); SendInstallSnapshot must be safe to call twice with the same
// (RequestID, RequestIndex).
type Transport interface {
	SendAppendEntries(ctx context.Context, req AppendRequest) (AppendReply, error)
	SendInstallSnapshot(ctx context.Context, req InstallSnapshotRequest) (InstallSnapshotReply, error)
}
