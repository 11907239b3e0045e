package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// segmentFile is the part of *os.File a segment writes through.
type segmentFile interface {
	io.Writer
	Truncate(size int64) error
	Sync() error
	Close() error
}

type segment struct {
	file   segmentFile
	offset int64
}

func segmentName(index int) string {
	return fmt.Sprintf("segment-%06d.wal", index)
}

func segmentIndex(path string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(filepath.Base(path), "segment-%06d.wal", &n); err != nil {
		return 0, false
	}
	return n, true
}

func openSegment(dir string, index int) (*segment, error) {
	path := filepath.Join(dir, segmentName(index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, offset: st.Size()}, nil
}

// append writes b whole or not at all. A failed write is cut back to the
// previous end of the segment; if that fails too the error wraps ErrFailed.
func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err == nil {
		s.offset += int64(n)
		return nil
	}
	if terr := s.file.Truncate(s.offset); terr != nil {
		return fmt.Errorf("%w: %w (truncate: %v)", ErrFailed, err, terr)
	}
	return err
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	return s.file.Close()
}
