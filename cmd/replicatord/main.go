// Command replicatord runs a standalone Raft leader that replicates a
// local log to a fixed set of followers over HTTP: one
// leaderharness.SimpleCoordinator, a bbolt-backed logstore.BoltStore, an
// httptransport.HTTPTransport, and one replicator.Replicator per
// configured peer. It plays only the leader side of the protocol;
// accepting and applying AppendEntries/InstallSnapshot as a follower is a
// separate process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yucl80/ratis/internal/leaderharness"
	"github.com/yucl80/ratis/internal/logging"
	"github.com/yucl80/ratis/internal/logstore"
	"github.com/yucl80/ratis/internal/replicator"
	"github.com/yucl80/ratis/internal/transport/httptransport"
)

func main() {
	var o options
	cmd := newRootCommand(&o, func() error { return run(o) })
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(o options) error {
	logger := logging.New(os.Stderr, o.logLevel)
	defer logger.Sync()

	store, err := logstore.Open(o.logPath)
	if err != nil {
		logger.Error("open log store", zap.Error(err))
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	tr := httptransport.New(http.DefaultClient, parsePeerResolver(o.peers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ld *leaderharness.Leader
	coord := leaderharness.NewSimpleCoordinator(leaderharness.Config{
		Term:                 o.term,
		SyncInterval:         o.syncInterval,
		MinElectionTimeout:   o.minElectionTimeout,
		SnapshotChunkMaxSize: o.snapshotChunkMaxSize,
	}, logger, func(newTerm uint64) {
		logger.Warn("leader stepping down, stopping all replicators", zap.Uint64("term", newTerm))
		ld.Close()
	})

	cfg := replicator.Config{BufferCapacity: o.bufferCapacity, BatchEnabled: o.batchEnabled}
	ld = leaderharness.New(o.leaderID, store, tr, coord, cfg, o.snapshotRoot, logger, registry)

	for peerID := range resolverPeers(o.peers) {
		ld.AddPeer(ctx, peerID, true)
	}

	srv := &http.Server{Addr: o.listenAddr, Handler: mux}
	go func() {
		logger.Info("replicatord listening", zap.String("addr", o.listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	ld.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parsePeerResolver(raw []string) httptransport.Resolver {
	addrs := make(map[string]string, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		addrs[parts[0]] = parts[1]
	}
	return func(peerID string) (string, error) {
		addr, ok := addrs[peerID]
		if !ok {
			return "", errPeerNotConfigured(peerID)
		}
		return addr, nil
	}
}

func resolverPeers(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = struct{}{}
		}
	}
	return out
}

type errPeerNotConfigured string

func (e errPeerNotConfigured) Error() string { return "no address configured for peer " + string(e) }
