package snapshotstream

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yucl80/ratis/internal/raftlog"
)

func writeFixture(t *testing.T, dir, name string, size int) raftlog.FileInfo {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	digest := sha256.Sum256(data)
	return raftlog.FileInfo{RelativePath: name, Size: uint64(size), Digest: digest[:]}
}

func TestStreamer_ChunkSequenceMatchesScenario(t *testing.T) {
	dir := t.TempDir()
	f1 := writeFixture(t, dir, "F1", 300)
	f2 := writeFixture(t, dir, "F2", 120)

	snap := raftlog.Snapshot{
		TermIndex: raftlog.TermIndex{Term: 3, Index: 99},
		Files:     []raftlog.FileInfo{f1, f2},
	}

	s, err := New(dir, snap, 128)
	require.NoError(t, err)
	defer s.Close()

	type want struct {
		file    string
		offset  uint64
		idx     int
		length  int
		done    bool
		reqDone bool
	}
	wants := []want{
		{"F1", 0, 0, 128, false, false},
		{"F1", 128, 1, 128, false, false},
		{"F1", 256, 2, 44, true, false},
		{"F2", 0, 0, 120, true, true},
	}

	for i, w := range wants {
		req, ok, err := s.Next(context.Background())
		require.NoError(t, err, "chunk %d", i)
		require.True(t, ok, "chunk %d", i)
		assert.Equal(t, w.file, req.Chunk.Filename, "chunk %d filename", i)
		assert.Equal(t, w.offset, req.Chunk.Offset, "chunk %d offset", i)
		assert.Equal(t, w.idx, req.Chunk.ChunkIndex, "chunk %d chunkIndex", i)
		assert.Len(t, req.Chunk.Data, w.length, "chunk %d data length", i)
		assert.Equal(t, w.done, req.Chunk.Done, "chunk %d file-done", i)
		assert.Equal(t, w.reqDone, req.Done, "chunk %d snapshot-done", i)
		assert.Equal(t, i, req.RequestIndex, "chunk %d requestIndex", i)
	}

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamer_ReplayIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	f1 := writeFixture(t, dir, "F1", 300)
	snap := raftlog.Snapshot{TermIndex: raftlog.TermIndex{Term: 1, Index: 5}, Files: []raftlog.FileInfo{f1}}

	collect := func() []transport_chunkKey {
		s, err := New(dir, snap, 128)
		require.NoError(t, err)
		defer s.Close()
		var out []transport_chunkKey
		for {
			req, ok, err := s.Next(context.Background())
			require.NoError(t, err)
			if !ok {
				break
			}
			out = append(out, transport_chunkKey{req.Chunk.Offset, len(req.Chunk.Data), req.Chunk.Done, string(req.Chunk.Digest)})
		}
		return out
	}

	first := collect()
	second := collect()
	assert.Equal(t, first, second)
}

type transport_chunkKey struct {
	offset uint64
	length int
	done   bool
	digest string
}

func TestStreamer_EmptySnapshotHasNoChunks(t *testing.T) {
	dir := t.TempDir()
	snap := raftlog.Snapshot{TermIndex: raftlog.TermIndex{Term: 1, Index: 1}}
	s, err := New(dir, snap, 128)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
