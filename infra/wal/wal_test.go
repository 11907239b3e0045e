package wal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func collect(t *testing.T, dir string) []*Record {
	t.Helper()
	var out []*Record
	_, err := Replay(dir, func(r *Record) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestAppendReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)

	require.NoError(t, w.Append(NewRecord(1, 1, now, []byte("a")), NewRecord(2, 2, now, []byte("bb"))))
	require.NoError(t, w.Append(NewRecord(3, 3, now, nil)))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	recs := collect(t, dir)
	require.Len(t, recs, 3)
	assert.Equal(t, RecordType(2), recs[1].Type)
	assert.Equal(t, []byte("bb"), recs[1].Data)
	assert.Equal(t, now.UnixNano(), recs[2].Time)

	assert.ErrorIs(t, w.Append(NewRecord(4, 4, now, nil)), ErrClosed)
}

func TestRotateAndReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, w.Append(NewRecord(1, i, now, []byte("payload"))))
	}
	require.NoError(t, w.Close())

	files, err := segments(dir)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1)

	w, err = Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(1, 11, now, nil)))
	require.NoError(t, w.Close())

	recs := collect(t, dir)
	require.Len(t, recs, 11)
	assert.Equal(t, uint64(11), recs[10].Seq)
}

func TestTornTailIsDroppedAndRepaired(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(1, 1, now, []byte("whole"))))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, segmentName(0))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(encode(NewRecord(1, 2, now, []byte("torn")))[:10])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Len(t, collect(t, dir), 1)

	w, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(1, 2, now, []byte("after"))))
	require.NoError(t, w.Close())

	recs := collect(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("after"), recs[1].Data)
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 40})
	require.NoError(t, err)
	for i := uint64(1); i <= 6; i++ {
		require.NoError(t, w.Append(NewRecord(1, i, now, []byte("x"))))
	}
	require.NoError(t, w.TruncateBefore(3))
	require.NoError(t, w.Close())

	recs := collect(t, dir)
	require.NotEmpty(t, recs)
	assert.Equal(t, uint64(3), recs[0].Seq, "segment holding seq 1 and 2 was kept")
}

// shortFile writes at most limit bytes of the next write and then fails.
type shortFile struct {
	*os.File
	limit       int
	truncateErr error
}

func (f *shortFile) Write(b []byte) (int, error) {
	if f.limit < 0 || len(b) <= f.limit {
		return f.File.Write(b)
	}
	n, err := f.File.Write(b[:f.limit])
	f.limit = -1
	if err != nil {
		return n, err
	}
	return n, io.ErrShortWrite
}

func (f *shortFile) Truncate(size int64) error {
	if f.truncateErr != nil {
		return f.truncateErr
	}
	return f.File.Truncate(size)
}

func TestShortWriteIsCutBack(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(NewRecord(1, 1, now, []byte("first"))))

	w.current.file = &shortFile{File: w.current.file.(*os.File), limit: 12}
	err = w.Append(NewRecord(1, 2, now, []byte("torn")))
	require.ErrorIs(t, err, io.ErrShortWrite)
	assert.NotErrorIs(t, err, ErrFailed)

	require.NoError(t, w.Append(NewRecord(1, 3, now, []byte("after"))))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	recs := collect(t, dir)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(3), recs[1].Seq)

	w, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Len(t, collect(t, dir), 2, "reopen must keep committed frames")
}

func TestFailedCutBackStopsAppends(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Append(NewRecord(1, 1, now, []byte("first"))))

	w.current.file = &shortFile{
		File:        w.current.file.(*os.File),
		limit:       12,
		truncateErr: errors.New("read-only filesystem"),
	}
	require.ErrorIs(t, w.Append(NewRecord(1, 2, now, []byte("torn"))), ErrFailed)
	assert.ErrorIs(t, w.Append(NewRecord(1, 3, now, []byte("after"))), ErrFailed)
}
