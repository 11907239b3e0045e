// Package wal is a segmented, append-only log of CRC-checked frames.
//
// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4], big endian, with
// the CRC covering header and payload. Sequence numbers are strictly
// increasing across segments.
package wal

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sort"
)

const headerSize = 1 + 8 + 8 + 4

var ErrClosed = errors.New("wal: closed")

// ErrFailed reports a segment left with a partial frame. The log refuses
// further appends until it is reopened, which repairs the tail.
var ErrFailed = errors.New("wal: failed")

type Config struct {
	Dir         string
	SegmentSize int64
}

type WAL struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	failed   error
}

// Open appends to the newest segment in cfg.Dir, creating the directory
// and the first segment as needed.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}

	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	index := 0
	if len(files) > 0 {
		newest := files[len(files)-1]
		if n, ok := segmentIndex(newest); ok {
			index = n
		}
		if err := repairTail(newest); err != nil {
			return nil, err
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: index,
	}, nil
}

func encode(r *Record) []byte {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, headerSize+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)
	return buf
}

// Append writes the records as one contiguous write. Durability requires
// a following Sync.
func (w *WAL) Append(rs ...*Record) error {
	if w.current == nil {
		return ErrClosed
	}
	if w.failed != nil {
		return w.failed
	}
	var buf []byte
	for _, r := range rs {
		buf = append(buf, encode(r)...)
	}
	if err := w.current.append(buf); err != nil {
		if errors.Is(err, ErrFailed) {
			w.failed = err
		}
		return err
	}
	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

// Sync flushes the current segment to stable storage.
func (w *WAL) Sync() error {
	if w.current == nil {
		return ErrClosed
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	if w.current == nil {
		return nil
	}
	err := w.current.close()
	w.current = nil
	return err
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore removes closed segments whose records all have
// sequence numbers at or below seq.
func (w *WAL) TruncateBefore(seq uint64) error {
	files, err := segments(w.dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if n, ok := segmentIndex(path); ok && n == w.segIndex {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

// segments lists segment files in index order.
func segments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
