// Package snapshotstream produces the ordered sequence of InstallSnapshot
// requests for one snapshot, reading each file in chunks under a caller
// supplied maximum chunk size.
package snapshotstream

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yucl80/ratis/internal/raftlog"
	"github.com/yucl80/ratis/internal/transport"
)

// Streamer is a pull-based iterator over one snapshot's files. It owns the
// currently open file handle and guarantees it is released on every exit
// path, including Close after a partial iteration.
type Streamer struct {
	root     string
	snapshot raftlog.Snapshot
	chunkMax int
	requestID string

	fileIndex    int
	requestIndex int

	cur          *os.File
	curInfo      raftlog.FileInfo
	curSize      int64
	curOffset    int64
	curChunkIdx  int
	buf          []byte
}

// New returns a Streamer for snapshot, reading its files relative to root.
// chunkMax bounds the size of each chunk's payload; a non-positive value is
// treated as 1.
func New(root string, snapshot raftlog.Snapshot, chunkMax int) (*Streamer, error) {
	if chunkMax <= 0 {
		chunkMax = 1
	}
	s := &Streamer{
		root:      root,
		snapshot:  snapshot,
		chunkMax:  chunkMax,
		requestID: uuid.New().String(),
	}
	if len(snapshot.Files) > 0 {
		if err := s.openFile(0); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Streamer) openFile(index int) error {
	info := s.snapshot.Files[index]
	f, err := os.Open(filepath.Join(s.root, info.RelativePath))
	if err != nil {
		return err
	}
	s.cur = f
	s.curInfo = info
	s.curSize = int64(info.Size)
	s.curOffset = 0
	s.curChunkIdx = 0
	bufLen := int64(s.chunkMax)
	if s.curSize < bufLen {
		bufLen = s.curSize
	}
	if bufLen <= 0 {
		bufLen = 1
	}
	s.buf = make([]byte, bufLen)
	return nil
}

// Next returns the next InstallSnapshotRequest, or ok=false when the
// snapshot has been fully iterated. A read failure closes the current
// file handle and terminates iteration fatally (err != nil, ok=false).
func (s *Streamer) Next(ctx context.Context) (transport.InstallSnapshotRequest, bool, error) {
	if ctx.Err() != nil {
		return transport.InstallSnapshotRequest{}, false, ctx.Err()
	}
	if s.fileIndex >= len(s.snapshot.Files) {
		return transport.InstallSnapshotRequest{}, false, nil
	}

	length := s.curSize - s.curOffset
	if int64(s.chunkMax) < length {
		length = int64(s.chunkMax)
	}
	buf := s.buf[:length]
	if _, err := readFull(s.cur, buf); err != nil {
		s.cur.Close()
		s.cur = nil
		return transport.InstallSnapshotRequest{}, false, err
	}

	chunkData := make([]byte, length)
	copy(chunkData, buf)

	done := s.curOffset+length == s.curSize
	chunk := transport.FileChunk{
		Filename:   s.curInfo.RelativePath,
		Offset:     uint64(s.curOffset),
		ChunkIndex: s.curChunkIdx,
		Data:       chunkData,
		Done:       done,
		Digest:     s.curInfo.Digest,
	}

	isLastFile := s.fileIndex == len(s.snapshot.Files)-1
	req := transport.InstallSnapshotRequest{
		RequestID:    s.requestID,
		RequestIndex: s.requestIndex,
		TermIndex:    s.snapshot.TermIndex,
		Chunk:        chunk,
		Done:         isLastFile && done,
	}
	s.requestIndex++
	s.curOffset += length
	s.curChunkIdx++

	if s.curOffset >= s.curSize {
		s.cur.Close()
		s.cur = nil
		s.fileIndex++
		if s.fileIndex < len(s.snapshot.Files) {
			if err := s.openFile(s.fileIndex); err != nil {
				return transport.InstallSnapshotRequest{}, false, err
			}
		}
	}

	return req, true, nil
}

// Close releases the currently open file handle, if any. Safe to call
// more than once and safe to call after partial iteration.
func (s *Streamer) Close() error {
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
