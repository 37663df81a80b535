package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// options holds every flag/env-configurable knob for one replicatord
// process.
type options struct {
	leaderID             string
	listenAddr           string
	logPath              string
	peers                []string
	term                 uint64
	syncInterval         time.Duration
	minElectionTimeout   time.Duration
	snapshotChunkMaxSize int
	snapshotRoot         string
	bufferCapacity       int
	batchEnabled         bool
	logLevel             zapcore.Level
}

// newRootCommand builds the replicatord cobra command. Every flag except
// --log-level is also bound to a REPLICATORD_<NAME> env var through viper;
// RunE resolves the final value for each field, giving an explicit flag
// priority over the env var and the env var priority over the default.
func newRootCommand(o *options, runE func() error) *cobra.Command {
	cmd := &cobra.Command{Use: "replicatord", Args: cobra.NoArgs}

	viper.SetEnvPrefix("REPLICATORD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	fs := cmd.Flags()
	fs.String("leader-id", "leader-1", "this leader's node id")
	fs.String("listen-addr", ":9090", "address this leader's RPC/metrics server binds")
	fs.String("log-path", "replicatord.bolt", "path to the bbolt-backed log store")
	fs.StringSlice("peers", nil, "comma-separated peerID=httpURL pairs, e.g. peer-1=http://10.0.0.2:9090")
	fs.Int("term", 1, "this leader's current term")
	fs.Duration("sync-interval", 100*time.Millisecond, "retry interval after a failed RPC")
	fs.Duration("min-election-timeout", time.Second, "cluster's minimum election timeout, used to pace heartbeats")
	fs.Int("snapshot-chunk-max-size", 1<<20, "max bytes per InstallSnapshot chunk")
	fs.String("snapshot-root", "snapshots", "directory snapshots are read from")
	fs.Int("buffer-capacity", 64, "max entries staged per AppendEntries batch")
	fs.Bool("batch-enabled", true, "stage multiple entries per batch instead of sending one at a time")
	level := zapcore.InfoLevel
	fs.Var((*zapLevel)(&level), "log-level", "debug, info, warn, or error")

	for _, name := range []string{
		"leader-id", "listen-addr", "log-path", "peers", "term", "sync-interval",
		"min-election-timeout", "snapshot-chunk-max-size", "snapshot-root",
		"buffer-capacity", "batch-enabled",
	} {
		if err := viper.BindPFlag(name, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.RunE = func(_ *cobra.Command, _ []string) error {
		o.leaderID = viper.GetString("leader-id")
		o.listenAddr = viper.GetString("listen-addr")
		o.logPath = viper.GetString("log-path")
		o.peers = viper.GetStringSlice("peers")
		o.term = uint64(viper.GetInt("term"))
		o.syncInterval = viper.GetDuration("sync-interval")
		o.minElectionTimeout = viper.GetDuration("min-election-timeout")
		o.snapshotChunkMaxSize = viper.GetInt("snapshot-chunk-max-size")
		o.snapshotRoot = viper.GetString("snapshot-root")
		o.bufferCapacity = viper.GetInt("buffer-capacity")
		o.batchEnabled = viper.GetBool("batch-enabled")
		o.logLevel = level
		return runE()
	}

	return cmd
}

// zapLevel adapts zapcore.Level to pflag.Value so --log-level accepts
// "debug"/"info"/"warn"/"error" directly.
type zapLevel zapcore.Level

func (l *zapLevel) String() string { return zapcore.Level(*l).String() }

func (l *zapLevel) Set(s string) error {
	var parsed zapcore.Level
	if err := parsed.Set(s); err != nil {
		return err
	}
	*l = zapLevel(parsed)
	return nil
}

func (l *zapLevel) Type() string { return "level" }

var _ pflag.Value = (*zapLevel)(nil)
