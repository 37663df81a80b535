// Package httptransport implements transport.Transport as JSON-over-HTTP,
// with an AppendEntries route, an InstallSnapshot route, and
// context.Context-based cancellation on both.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/yucl80/ratis/internal/transport"
)

const (
	defaultAppendEntriesPath   = "/raft/appendEntries"
	defaultInstallSnapshotPath = "/raft/installSnapshot"
)

// HTTPTransport is a default transport.Transport that dials a peer by its
// address over HTTP. One HTTPTransport can be shared by every Replicator
// on this leader; peer addresses are resolved from the target id by
// Resolver.
type HTTPTransport struct {
	client   *http.Client
	resolver Resolver

	appendEntriesPath   string
	installSnapshotPath string
}

// Resolver maps a peer (follower) id to the base URL of its RPC endpoint,
// e.g. "http://10.0.0.12:9000".
type Resolver func(peerID string) (string, error)

// New returns an HTTPTransport using client (or http.DefaultClient if
// nil) and resolver to address peers.
func New(client *http.Client, resolver Resolver) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		client:              client,
		resolver:            resolver,
		appendEntriesPath:   defaultAppendEntriesPath,
		installSnapshotPath: defaultInstallSnapshotPath,
	}
}

// Install registers this transport's handlers, bound to a Replicator's
// dispatch functions, on mux -- mirroring HTTPTransporter.Install.
func (t *HTTPTransport) Install(mux *http.ServeMux, appendEntries func(context.Context, transport.AppendRequest) (transport.AppendReply, error), installSnapshot func(context.Context, transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error)) {
	mux.HandleFunc(t.appendEntriesPath, t.appendEntriesHandler(appendEntries))
	mux.HandleFunc(t.installSnapshotPath, t.installSnapshotHandler(installSnapshot))
}

// SendAppendEntries implements transport.Transport.
func (t *HTTPTransport) SendAppendEntries(ctx context.Context, req transport.AppendRequest) (transport.AppendReply, error) {
	var reply transport.AppendReply
	err := t.post(ctx, req.TargetID, t.appendEntriesPath, req, &reply)
	return reply, err
}

// SendInstallSnapshot implements transport.Transport.
func (t *HTTPTransport) SendInstallSnapshot(ctx context.Context, req transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error) {
	var reply transport.InstallSnapshotReply
	err := t.post(ctx, req.TargetID, t.installSnapshotPath, req, &reply)
	return reply, err
}

func (t *HTTPTransport) post(ctx context.Context, targetID, path string, body, out interface{}) error {
	base, err := t.resolver(targetID)
	if err != nil {
		return errors.Wrapf(err, "resolve peer %s", targetID)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return errors.Wrap(err, "encode request")
	}

	url := fmt.Sprintf("%s%s", base, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("peer %s returned status %d", targetID, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "decode reply")
	}
	return nil
}

func (t *HTTPTransport) appendEntriesHandler(handle func(context.Context, transport.AppendRequest) (transport.AppendReply, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req transport.AppendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, err := handle(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func (t *HTTPTransport) installSnapshotHandler(handle func(context.Context, transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req transport.InstallSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, err := handle(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
