package service

import (
	"time"

	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/domain/matching"
	"kestrel/domain/orderbook"
)

// State is the progress of one coordinated operation.
type State uint8

const (
	Start State = iota
	Allocated
	JournalBegun
	Matched
	TradesInserted
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Start:
		return "START"
	case Allocated:
		return "ALLOCATED"
	case JournalBegun:
		return "JOURNAL_BEGUN"
	case Matched:
		return "MATCHED"
	case TradesInserted:
		return "TRADES_INSERTED"
	case Committed:
		return "COMMITTED"
	case RolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

type Op uint8

const (
	OpSubmit Op = iota
	OpRevise
	OpCancel
	OpArchive
)

func (o Op) String() string {
	switch o {
	case OpSubmit:
		return "submit"
	case OpRevise:
		return "revise"
	case OpCancel:
		return "cancel"
	case OpArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// txn is the context of one operation. It tracks every record allocated
// on the way to commit so that abort can hand them all back.
type txn struct {
	e     *Engine
	op    Op
	state State
	now   time.Time

	order     *orderbook.Order
	matches   []*matching.Match
	takerPosn *ledger.Position
	// posns were allocated by this txn and are not yet indexed.
	posns  []*ledger.Position
	rested *orderbook.Book
}

func (e *Engine) newTxn(op Op, now time.Time) *txn {
	return &txn{e: e, op: op, state: Start, now: now}
}

func (t *txn) begin() error {
	if err := t.e.journal.Begin(); err != nil {
		return t.abort(journalErr("begin", err))
	}
	t.state = JournalBegun
	return nil
}

func (t *txn) commit() error {
	if err := t.e.journal.Commit(); err != nil {
		return t.abort(journalErr("commit", err))
	}
	t.state = Committed
	return nil
}

// abort unwinds whatever the txn holds at its current state and returns
// err for the caller to report.
func (t *txn) abort(err error) error {
	e := t.e
	at := t.state

	if t.rested != nil {
		_ = t.rested.Remove(t.order)
		t.rested = nil
	}
	if at >= JournalBegun && at < Committed {
		if rerr := e.journal.Rollback(); rerr != nil {
			e.log.Error("journal rollback failed", zap.Stringer("op", t.op), zap.Error(rerr))
		}
	}
	for _, m := range t.matches {
		e.arena.FreeMatch(m)
	}
	t.matches = nil
	for _, p := range t.posns {
		e.arena.posns.Free(p.Handle)
	}
	t.posns = nil
	if t.order != nil {
		e.arena.orders.Free(t.order.Handle)
		t.order = nil
	}

	t.state = RolledBack
	e.obs.RolledBack(t.op, at)
	e.log.Warn("operation rolled back",
		zap.Stringer("op", t.op),
		zap.Stringer("state", at),
		zap.Error(err),
	)
	return err
}

// position finds the position for trader and key, allocating a pending
// one if neither the account nor this txn holds it yet.
func (t *txn) position(trader string, key ledger.PosnKey) (*ledger.Position, error) {
	if acct, ok := t.e.accounts[trader]; ok {
		if h, ok := acct.Position(key); ok {
			return t.e.arena.posn(h), nil
		}
	}
	for _, p := range t.posns {
		if p.Trader == trader && p.Key == key {
			return p, nil
		}
	}
	p, err := t.e.arena.newPosn()
	if err != nil {
		return nil, err
	}
	p.Trader = trader
	p.Key = key
	t.posns = append(t.posns, p)
	return p, nil
}

// done records a successful commit.
func (t *txn) done(id int64) {
	t.e.obs.Committed(t.op, len(t.matches))
	t.e.log.Debug("operation committed",
		zap.Stringer("op", t.op),
		zap.Int64("order", id),
		zap.Int("matches", len(t.matches)),
	)
}
