package logstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yucl80/ratis/internal/raftlog"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_AppendGetRange(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetStartIndex(1))
	require.NoError(t, s.Append(
		raftlog.Entry{Term: 1, Index: 1, Payload: []byte("a")},
		raftlog.Entry{Term: 1, Index: 2, Payload: []byte("bb")},
		raftlog.Entry{Term: 2, Index: 3, Payload: []byte("ccc")},
	))

	assert.Equal(t, uint64(1), s.StartIndex())
	assert.Equal(t, uint64(4), s.NextIndex())

	e, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Term)
	assert.Equal(t, []byte("bb"), e.Payload)

	_, ok = s.Get(99)
	assert.False(t, ok)

	rng, err := s.GetRange(1, 4)
	require.NoError(t, err)
	require.Len(t, rng, 3)
	assert.Equal(t, []byte("ccc"), rng[2].Payload)
}

func TestBoltStore_SnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok := s.LatestSnapshot()
	assert.False(t, ok)

	snap := raftlog.Snapshot{
		TermIndex: raftlog.TermIndex{Term: 3, Index: 99},
		Files: []raftlog.FileInfo{
			{RelativePath: "state.db", Size: 1024, Digest: []byte{1, 2, 3}},
		},
	}
	require.NoError(t, s.SetSnapshot(snap))

	got, ok := s.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestBoltStore_EmptyLogNextIndexDefaultsToStart(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, uint64(1), s.StartIndex())
	assert.Equal(t, uint64(1), s.NextIndex())
}
