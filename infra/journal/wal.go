package journal

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/sequence"
	walog "kestrel/infra/wal"
)

const (
	recOrder walog.RecordType = iota + 1
	recUpdate
	recTrade
	recArchiveOrder
	recArchiveTrade
	recCommit
)

// WAL journals every change as a log record. Records of a transaction are
// buffered and appended together with a commit marker; on load, records
// not followed by their marker are discarded.
type WAL struct {
	log     *walog.WAL
	ids     *sequence.Sequencer
	lsn     *sequence.Sequencer
	pending []*walog.Record
	open    bool
	state   State
	zl      *zap.Logger
}

// OpenWAL loads the checkpoint and the log after it from cfg.Dir, then
// folds both into a fresh checkpoint and drops the segments it covers.
func OpenWAL(cfg walog.Config, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	cp, err := readCheckpoint(cfg.Dir)
	if err != nil {
		return nil, err
	}
	r := newReplayer(cp)
	lastSeq, err := walog.Replay(cfg.Dir, r.apply)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", cfg.Dir, err)
	}
	if n := len(r.txn); n > 0 {
		log.Warn("discarding uncommitted journal records", zap.Int("records", n))
	}

	w, err := walog.Open(cfg)
	if err != nil {
		return nil, err
	}
	st := r.state()

	if r.committed > cp.Seq {
		next := checkpoint{Seq: r.committed, LastID: st.LastID, Orders: st.Orders, Trades: st.Trades}
		if err := writeCheckpoint(cfg.Dir, next); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		if err := w.TruncateBefore(r.committed); err != nil {
			log.Warn("truncate journal", zap.Error(err))
		}
		log.Info("journal checkpointed", zap.Uint64("seq", r.committed))
	}

	return &WAL{
		log:   w,
		ids:   sequence.New(st.LastID),
		lsn:   sequence.New(int64(max(lastSeq, cp.Seq))),
		state: st,
		zl:    log,
	}, nil
}

func (w *WAL) AllocID() int64 {
	return w.ids.Next()
}

func (w *WAL) Begin() error {
	if w.open {
		return ErrTxnOpen
	}
	w.open = true
	w.pending = w.pending[:0]
	return nil
}

func (w *WAL) Commit() error {
	if !w.open {
		return ErrNoTxn
	}
	w.open = false

	var now time.Time
	if n := len(w.pending); n > 0 {
		now = time.Unix(0, w.pending[n-1].Time)
	} else {
		now = time.Unix(0, 0)
	}
	w.add(recCommit, now, encodeCommit(w.ids.Last(), len(w.pending)))

	recs := w.pending
	w.pending = w.pending[:0]
	for _, r := range recs {
		r.Seq = uint64(w.lsn.Next())
	}
	if err := w.log.Append(recs...); err != nil {
		return err
	}
	return w.log.Sync()
}

func (w *WAL) Rollback() error {
	if !w.open {
		return ErrNoTxn
	}
	w.open = false
	w.pending = w.pending[:0]
	return nil
}

func (w *WAL) add(t walog.RecordType, now time.Time, data []byte) {
	w.pending = append(w.pending, walog.NewRecord(t, 0, now, data))
}

func (w *WAL) InsertOrder(o *orderbook.Order) error {
	if !w.open {
		return ErrNoTxn
	}
	w.add(recOrder, o.Modified, encodeOrder(o, false))
	return nil
}

func (w *WAL) UpdateOrder(id int64, rev int32, status orderbook.Status, resd, exec, lots int64, now time.Time) error {
	if !w.open {
		return ErrNoTxn
	}
	u := update{ID: id, Rev: rev, Status: status, Resd: resd, Exec: exec, Lots: lots, Now: now}
	w.add(recUpdate, now, encodeUpdate(u))
	return nil
}

func (w *WAL) InsertTrade(t *ledger.Trade) error {
	if !w.open {
		return ErrNoTxn
	}
	w.add(recTrade, t.Created, encodeTrade(t))
	return nil
}

func (w *WAL) ArchiveOrder(id int64, now time.Time) error {
	if !w.open {
		return ErrNoTxn
	}
	w.add(recArchiveOrder, now, encodeID(id))
	return nil
}

func (w *WAL) ArchiveTrade(id int64, now time.Time) error {
	if !w.open {
		return ErrNoTxn
	}
	w.add(recArchiveTrade, now, encodeID(id))
	return nil
}

// Load returns the state replayed when the log was opened.
func (w *WAL) Load() (State, error) {
	w.zl.Info("journal loaded",
		zap.Int("orders", len(w.state.Orders)),
		zap.Int("trades", len(w.state.Trades)),
		zap.Int64("last_id", w.state.LastID))
	st := w.state
	w.state = State{}
	return st, nil
}

func (w *WAL) Close() error {
	return w.log.Close()
}

func encodeCommit(lastID int64, records int) []byte {
	b := putInt(nil, 1, lastID)
	return putInt(b, 2, int64(records))
}

func decodeCommit(b []byte) (lastID int64, records int, err error) {
	err = fields(b, func(n protowire.Number, v int64, _ []byte) {
		switch n {
		case 1:
			lastID = v
		case 2:
			records = int(v)
		}
	})
	return lastID, records, err
}

// replayer folds committed log records into journal state.
type replayer struct {
	orders    map[int64]*orderbook.Order
	trades    map[int64]*ledger.Trade
	archived  map[int64]struct{}
	lastID    int64
	after     uint64
	committed uint64
	txn       []*walog.Record
}

func newReplayer(cp checkpoint) *replayer {
	r := &replayer{
		orders:    make(map[int64]*orderbook.Order, len(cp.Orders)),
		trades:    make(map[int64]*ledger.Trade, len(cp.Trades)),
		archived:  make(map[int64]struct{}),
		lastID:    cp.LastID,
		after:     cp.Seq,
		committed: cp.Seq,
	}
	for i := range cp.Orders {
		r.orders[cp.Orders[i].ID] = &cp.Orders[i]
	}
	for i := range cp.Trades {
		r.trades[cp.Trades[i].ID] = &cp.Trades[i]
	}
	return r
}

func (r *replayer) apply(rec *walog.Record) error {
	if rec.Seq <= r.after {
		return nil
	}
	if rec.Type != recCommit {
		r.txn = append(r.txn, rec)
		return nil
	}
	lastID, n, err := decodeCommit(rec.Data)
	if err != nil {
		return err
	}
	if n > len(r.txn) {
		return fmt.Errorf("%w: commit %d spans %d records, have %d", walog.ErrCorrupt, rec.Seq, n, len(r.txn))
	}
	// Anything before the committed run belongs to a transaction whose
	// append failed part way.
	for _, tr := range r.txn[len(r.txn)-n:] {
		if err := r.fold(tr); err != nil {
			return fmt.Errorf("record %d: %w", tr.Seq, err)
		}
	}
	r.txn = r.txn[:0]
	r.lastID = max(r.lastID, lastID)
	r.committed = rec.Seq
	return nil
}

func (r *replayer) fold(rec *walog.Record) error {
	switch rec.Type {
	case recOrder:
		o, _, err := decodeOrder(rec.Data)
		if err != nil {
			return err
		}
		r.orders[o.ID] = &o
	case recUpdate:
		u, err := decodeUpdate(rec.Data)
		if err != nil {
			return err
		}
		o, ok := r.orders[u.ID]
		if !ok {
			return fmt.Errorf("update of order %d: %w", u.ID, ErrNotFound)
		}
		u.apply(o)
	case recTrade:
		t, err := decodeTrade(rec.Data)
		if err != nil {
			return err
		}
		r.trades[t.ID] = &t
	case recArchiveOrder:
		id, err := decodeID(rec.Data)
		if err != nil {
			return err
		}
		if o, ok := r.orders[id]; ok {
			o.Modified = unixTime(rec.Time)
		}
		r.archived[id] = struct{}{}
	case recArchiveTrade:
		id, err := decodeID(rec.Data)
		if err != nil {
			return err
		}
		t, ok := r.trades[id]
		if !ok {
			return fmt.Errorf("archive of trade %d: %w", id, ErrNotFound)
		}
		t.Archived = true
	default:
		return fmt.Errorf("%w: record type %d", ErrBadRecord, rec.Type)
	}
	return nil
}

func (r *replayer) state() State {
	st := State{LastID: r.lastID}
	for id, o := range r.orders {
		if _, gone := r.archived[id]; gone {
			continue
		}
		st.Orders = append(st.Orders, *o)
	}
	for _, t := range r.trades {
		st.Trades = append(st.Trades, *t)
	}
	st.finish()
	return st
}
