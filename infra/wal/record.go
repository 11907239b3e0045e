package wal

import "time"

// RecordType is assigned by the caller; the log treats it as opaque.
type RecordType uint8

// Record is one framed log entry.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, now time.Time, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: now.UnixNano(),
		Data: data,
	}
}
