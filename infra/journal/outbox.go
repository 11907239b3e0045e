package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"kestrel/domain/ledger"
)

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ExitRecord tracks delivery of one trade.
type ExitRecord struct {
	State       ExitState
	Retries     uint32
	LastAttempt time.Time
}

// [state:1][retries:4][lastAttempt:8]
func encodeExit(r ExitRecord) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	var at int64
	if !r.LastAttempt.IsZero() {
		at = r.LastAttempt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[5:13], uint64(at))
	return buf
}

func decodeExit(b []byte) (ExitRecord, error) {
	if len(b) != 13 {
		return ExitRecord{}, fmt.Errorf("%w: exit record length %d", ErrBadRecord, len(b))
	}
	r := ExitRecord{
		State:   ExitState(b[0]),
		Retries: binary.BigEndian.Uint32(b[1:5]),
	}
	if at := int64(binary.BigEndian.Uint64(b[5:13])); at != 0 {
		r.LastAttempt = unixTime(at)
	}
	return r, nil
}

// Outbox is the trade delivery queue. Entries are created by the journal
// in the same batch as their trade; the outbox only moves them along.
type Outbox struct {
	p *Pebble
}

// Scan visits every entry once, ascending by trade id.
func (o *Outbox) Scan(fn func(tradeID int64, rec ExitRecord) error) error {
	prefix := []byte("outbox/")
	return o.p.scan(prefix, func(key, val []byte) error {
		rec, err := decodeExit(val)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(bytes.TrimPrefix(key, prefix)), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: outbox key %q", ErrBadRecord, key)
		}
		return fn(id, rec)
	})
}

// ScanByState visits every entry in the given state, ascending by trade id.
func (o *Outbox) ScanByState(state ExitState, fn func(tradeID int64, rec ExitRecord) error) error {
	return o.Scan(func(id int64, rec ExitRecord) error {
		if rec.State != state {
			return nil
		}
		return fn(id, rec)
	})
}

func (o *Outbox) Get(tradeID int64) (ExitRecord, error) {
	val, closer, err := o.p.db.Get(outboxKey(tradeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return ExitRecord{}, ErrNotFound
	}
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()
	return decodeExit(val)
}

func (o *Outbox) UpdateState(tradeID int64, state ExitState, retries uint32, now time.Time) error {
	rec := ExitRecord{State: state, Retries: retries, LastAttempt: now}
	return o.p.db.Set(outboxKey(tradeID), encodeExit(rec), pebble.Sync)
}

// Delete drops a delivered entry.
func (o *Outbox) Delete(tradeID int64) error {
	return o.p.db.Delete(outboxKey(tradeID), pebble.Sync)
}

// Trade reads the committed trade an entry refers to.
func (o *Outbox) Trade(tradeID int64) (ledger.Trade, error) {
	val, closer, err := o.p.db.Get(tradeKey(tradeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return ledger.Trade{}, ErrNotFound
	}
	if err != nil {
		return ledger.Trade{}, err
	}
	defer closer.Close()
	return decodeTrade(val)
}
