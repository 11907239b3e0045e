package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/sequence"
)

// Pebble stores the current row of every order and trade. A transaction is
// one indexed batch, committed with a synced write. Every trade row is
// written together with an outbox entry for downstream delivery.
type Pebble struct {
	db    *pebble.DB
	ids   *sequence.Sequencer
	batch *pebble.Batch
	log   *zap.Logger
}

// OpenPebble opens or creates a store in dir. opts may be nil.
func OpenPebble(dir string, opts *pebble.Options, log *zap.Logger) (*Pebble, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	p := &Pebble{db: db, ids: sequence.New(0), log: log}

	last, err := p.lastID()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ids.Observe(last)
	return p, nil
}

func (p *Pebble) lastID() (int64, error) {
	val, closer, err := p.db.Get(metaNextID)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: meta last id", ErrBadRecord)
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func (p *Pebble) AllocID() int64 {
	return p.ids.Next()
}

func (p *Pebble) Begin() error {
	if p.batch != nil {
		return ErrTxnOpen
	}
	p.batch = p.db.NewIndexedBatch()
	return nil
}

func (p *Pebble) Commit() error {
	if p.batch == nil {
		return ErrNoTxn
	}
	b := p.batch
	p.batch = nil
	defer b.Close()

	var last [8]byte
	binary.BigEndian.PutUint64(last[:], uint64(p.ids.Last()))
	if err := b.Set(metaNextID, last[:], nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (p *Pebble) Rollback() error {
	if p.batch == nil {
		return ErrNoTxn
	}
	b := p.batch
	p.batch = nil
	return b.Close()
}

func (p *Pebble) InsertOrder(o *orderbook.Order) error {
	if p.batch == nil {
		return ErrNoTxn
	}
	return p.batch.Set(orderKey(o.ID), encodeOrder(o, false), nil)
}

func (p *Pebble) UpdateOrder(id int64, rev int32, status orderbook.Status, resd, exec, lots int64, now time.Time) error {
	if p.batch == nil {
		return ErrNoTxn
	}
	return p.modifyOrder(id, func(o *orderbook.Order, _ *bool) {
		update{ID: id, Rev: rev, Status: status, Resd: resd, Exec: exec, Lots: lots, Now: now}.apply(o)
	})
}

func (p *Pebble) InsertTrade(t *ledger.Trade) error {
	if p.batch == nil {
		return ErrNoTxn
	}
	if err := p.batch.Set(tradeKey(t.ID), encodeTrade(t), nil); err != nil {
		return err
	}
	return p.batch.Set(outboxKey(t.ID), encodeExit(ExitRecord{State: StateNew}), nil)
}

func (p *Pebble) ArchiveOrder(id int64, now time.Time) error {
	if p.batch == nil {
		return ErrNoTxn
	}
	return p.modifyOrder(id, func(o *orderbook.Order, archived *bool) {
		o.Modified = now
		*archived = true
	})
}

func (p *Pebble) ArchiveTrade(id int64, _ time.Time) error {
	if p.batch == nil {
		return ErrNoTxn
	}
	key := tradeKey(id)
	val, err := p.get(key)
	if err != nil {
		return fmt.Errorf("trade %d: %w", id, err)
	}
	t, err := decodeTrade(val)
	if err != nil {
		return err
	}
	t.Archived = true
	return p.batch.Set(key, encodeTrade(&t), nil)
}

func (p *Pebble) modifyOrder(id int64, fn func(o *orderbook.Order, archived *bool)) error {
	key := orderKey(id)
	val, err := p.get(key)
	if err != nil {
		return fmt.Errorf("order %d: %w", id, err)
	}
	o, archived, err := decodeOrder(val)
	if err != nil {
		return err
	}
	fn(&o, &archived)
	return p.batch.Set(key, encodeOrder(&o, archived), nil)
}

// get reads through the open batch so earlier writes are visible.
func (p *Pebble) get(key []byte) ([]byte, error) {
	val, closer, err := p.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

// Load reads every unarchived order and every trade.
func (p *Pebble) Load() (State, error) {
	st := State{LastID: p.ids.Last()}

	err := p.scan([]byte("order/"), func(_ []byte, val []byte) error {
		o, archived, err := decodeOrder(val)
		if err != nil {
			return err
		}
		if !archived {
			st.Orders = append(st.Orders, o)
		}
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load orders: %w", err)
	}

	err = p.scan([]byte("trade/"), func(_ []byte, val []byte) error {
		t, err := decodeTrade(val)
		if err != nil {
			return err
		}
		st.Trades = append(st.Trades, t)
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("load trades: %w", err)
	}

	st.finish()
	p.log.Info("journal loaded",
		zap.Int("orders", len(st.Orders)),
		zap.Int("trades", len(st.Trades)),
		zap.Int64("last_id", st.LastID))
	return st, nil
}

// scan visits every key under prefix in key order.
func (p *Pebble) scan(prefix []byte, fn func(key, val []byte) error) error {
	upper := append(bytes.Clone(prefix), 0xff)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Outbox returns the delivery queue kept alongside the trade rows.
func (p *Pebble) Outbox() *Outbox {
	return &Outbox{p: p}
}

func (p *Pebble) Close() error {
	if p.batch != nil {
		_ = p.batch.Close()
		p.batch = nil
	}
	return p.db.Close()
}
