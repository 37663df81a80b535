package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yucl80/ratis/internal/transport"
)

func TestHTTPTransport_AppendEntriesRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	serverSide := New(nil, nil)
	serverSide.Install(mux, func(ctx context.Context, req transport.AppendRequest) (transport.AppendReply, error) {
		return transport.AppendReply{Result: transport.AppendSuccess, NextIndex: uint64(len(req.Entries)) + 1}, nil
	}, func(ctx context.Context, req transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error) {
		return transport.InstallSnapshotReply{Result: transport.InstallSuccess, Success: true}, nil
	})

	clientSide := New(srv.Client(), func(peerID string) (string, error) {
		return srv.URL, nil
	})

	reply, err := clientSide.SendAppendEntries(context.Background(), transport.AppendRequest{
		TargetID: "peer-1",
		Entries:  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, transport.AppendSuccess, reply.Result)
	assert.Equal(t, uint64(1), reply.NextIndex)
}

func TestHTTPTransport_InstallSnapshotRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	serverSide := New(nil, nil)
	serverSide.Install(mux, func(ctx context.Context, req transport.AppendRequest) (transport.AppendReply, error) {
		return transport.AppendReply{}, nil
	}, func(ctx context.Context, req transport.InstallSnapshotRequest) (transport.InstallSnapshotReply, error) {
		assert.Equal(t, "req-1", req.RequestID)
		return transport.InstallSnapshotReply{Result: transport.InstallSuccess, Success: true}, nil
	})

	clientSide := New(srv.Client(), func(peerID string) (string, error) {
		return srv.URL, nil
	})

	reply, err := clientSide.SendInstallSnapshot(context.Background(), transport.InstallSnapshotRequest{
		TargetID:  "peer-1",
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestHTTPTransport_ResolverErrorPropagates(t *testing.T) {
	tr := New(nil, func(peerID string) (string, error) {
		return "", assert.AnError
	})
	_, err := tr.SendAppendEntries(context.Background(), transport.AppendRequest{TargetID: "peer-x"})
	require.Error(t, err)
}
