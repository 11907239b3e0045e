package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCorrupt reports a frame that failed its checksum or broke sequence
// order somewhere other than the tail of the log.
var ErrCorrupt = errors.New("wal: corrupt record")

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in sequence order. A torn frame
// at the very end of the last segment is treated as the end of the log.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}

	for i, path := range files {
		last := i == len(files)-1
		lastSeq, err = replaySegment(path, last, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, last bool, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		switch {
		case err == io.EOF:
			return lastSeq, nil
		case last && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrCorrupt)):
			return lastSeq, nil
		case err != nil:
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%w: non-monotonic seq %d after %d", ErrCorrupt, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, ErrCorrupt
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}

// repairTail cuts a torn or corrupt suffix off the segment so new frames
// are not appended behind it.
func repairTail(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var good int64
	for {
		rec, err := readRecord(f)
		if err != nil {
			break
		}
		good += int64(headerSize + len(rec.Data) + 4)
	}
	st, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return err
	}
	if st.Size() == good {
		return nil
	}
	return os.Truncate(path, good)
}
