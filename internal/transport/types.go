// Package transport defines the wire-level request/reply shapes the
// Replicator sends to a follower, and the contract a concrete RPC carrier
// (HTTP, gRPC, ...) must implement to move them.
package transport

import "github.com/yucl80/ratis/internal/raftlog"

// AppendResult is the outcome tag carried on an AppendReply.
type AppendResult int

const (
	AppendSuccess AppendResult = iota
	AppendNotLeader
	AppendInconsistency
	AppendUnrecognized
)

func (r AppendResult) String() string {
	switch r {
	case AppendSuccess:
		return "SUCCESS"
	case AppendNotLeader:
		return "NOT_LEADER"
	case AppendInconsistency:
		return "INCONSISTENCY"
	case AppendUnrecognized:
		return "UNRECOGNIZED"
	default:
		return "UNKNOWN"
	}
}

// AppendRequest carries a contiguous batch of log entries (or none, for a
// heartbeat/probe) from the leader to one follower.
type AppendRequest struct {
	LeaderTerm uint64
	LeaderID   string
	TargetID   string

	// Previous is the term/index immediately preceding Entries[0], or the
	// log tip if Entries is empty. Nil only at leader genesis with no
	// snapshot yet taken.
	Previous *raftlog.TermIndex

	Entries []raftlog.Entry

	// HeartbeatOrProbe is true when the request carries no entries, i.e. it
	// is a heartbeat or probe rather than a batch of log entries.
	HeartbeatOrProbe bool
}

// IsHeartbeat reports whether this request carries no entries.
func (r AppendRequest) IsHeartbeat() bool {
	return len(r.Entries) == 0
}

// AppendReply is the follower's response to an AppendRequest.
type AppendReply struct {
	Term      uint64
	Result    AppendResult
	NextIndex uint64
}

// FileChunk is exactly one chunk of exactly one snapshot file.
type FileChunk struct {
	Filename   string
	Offset     uint64
	ChunkIndex int
	Data       []byte
	Done       bool
	Digest     []byte
}

// InstallSnapshotRequest carries one FileChunk of one snapshot install
// stream, identified by RequestID (stable across the whole install) and
// RequestIndex (incrementing per chunk across all files).
type InstallSnapshotRequest struct {
	LeaderID     string
	TargetID     string
	RequestID    string
	RequestIndex int
	TermIndex    raftlog.TermIndex
	Chunk        FileChunk
	// Done is true iff Chunk closes the last file of the snapshot.
	Done bool
}

// InstallResult is the outcome tag carried on an InstallSnapshotReply.
type InstallResult int

const (
	InstallSuccess InstallResult = iota
	InstallInProgress
	InstallAlreadyInstalled
	InstallNotLeader
)

// InstallSnapshotReply is the follower's response to one
// InstallSnapshotRequest.
type InstallSnapshotReply struct {
	Term    uint64
	Result  InstallResult
	Success bool
}
