// Package metrics exposes per-Replicator counters and gauges through
// prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReplicatorMetrics is the set of series emitted by one Replicator. Create
// one per peer and register it against the process's prometheus.Registerer
// (or leave unregistered in tests).
type ReplicatorMetrics struct {
	AppendEntriesSent prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	Retries           prometheus.Counter
	SnapshotChunksSent prometheus.Counter
	StepDownsObserved prometheus.Counter
	NextIndex         prometheus.Gauge
	MatchIndex        prometheus.Gauge
}

// NewReplicatorMetrics builds the series labeled with this peer's id, but
// does not register them.
func NewReplicatorMetrics(peerID string) *ReplicatorMetrics {
	labels := prometheus.Labels{"peer": peerID}
	return &ReplicatorMetrics{
		AppendEntriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "append_entries_sent_total",
			Help:        "AppendEntries requests sent to this follower.",
			ConstLabels: labels,
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "heartbeats_sent_total",
			Help:        "Empty (heartbeat) AppendEntries requests sent to this follower.",
			ConstLabels: labels,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "retries_total",
			Help:        "Transport-error retries against this follower.",
			ConstLabels: labels,
		}),
		SnapshotChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "snapshot_chunks_sent_total",
			Help:        "InstallSnapshot chunks sent to this follower.",
			ConstLabels: labels,
		}),
		StepDownsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "step_downs_observed_total",
			Help:        "Higher-term replies observed from this follower.",
			ConstLabels: labels,
		}),
		NextIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "next_index",
			Help:        "Leader's current nextIndex estimate for this follower.",
			ConstLabels: labels,
		}),
		MatchIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Subsystem:   "replicator",
			Name:        "match_index",
			Help:        "Highest log index known replicated on this follower.",
			ConstLabels: labels,
		}),
	}
}

// MustRegister registers every series in m against reg.
func (m *ReplicatorMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.AppendEntriesSent,
		m.HeartbeatsSent,
		m.Retries,
		m.SnapshotChunksSent,
		m.StepDownsObserved,
		m.NextIndex,
		m.MatchIndex,
	)
}
