package service

import (
	"fmt"

	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

// Recovery is engine state loaded back from a journal.
type Recovery struct {
	// Orders holds every unarchived order in its last journaled state,
	// ascending by id.
	Orders []orderbook.Order
	// Trades holds every trade ascending by id, archived ones included so
	// positions can be rebuilt.
	Trades []ledger.Trade
}

// Recover rebuilds books, accounts and positions. It must run on a fresh
// engine before any other call.
func (e *Engine) Recover(r Recovery) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.accounts) != 0 || len(e.books) != 0 {
		return fmt.Errorf("recover: engine is not empty")
	}

	for i := range r.Orders {
		src := &r.Orders[i]
		o, err := e.arena.newOrder()
		if err != nil {
			return fmt.Errorf("recover order %d: %w", src.ID, err)
		}
		h := o.Handle
		*o = *src
		o.Handle = h

		e.account(o.Trader).InsertOrder(o.ID, o.Ref, o.Handle)
		if o.Done() || o.Status.Terminal() {
			continue
		}
		if err := e.book(o.Market).Insert(o); err != nil {
			return fmt.Errorf("recover order %d: %w", o.ID, err)
		}
	}

	for i := range r.Trades {
		src := &r.Trades[i]
		p, err := e.recoverPosition(src.Trader, src.Key())
		if err != nil {
			return fmt.Errorf("recover trade %d: %w", src.ID, err)
		}
		p.Apply(src)
		if src.Archived {
			continue
		}
		tr, err := e.arena.NewTrade()
		if err != nil {
			return fmt.Errorf("recover trade %d: %w", src.ID, err)
		}
		h := tr.Handle
		*tr = *src
		tr.Handle = h
		e.account(tr.Trader).InsertTrade(tr.ID, tr.Handle)
	}

	e.log.Info("engine recovered",
		zap.Int("orders", len(r.Orders)),
		zap.Int("trades", len(r.Trades)),
		zap.Int("books", len(e.books)),
	)
	return nil
}

func (e *Engine) recoverPosition(trader string, key ledger.PosnKey) (*ledger.Position, error) {
	acct := e.account(trader)
	if h, ok := acct.Position(key); ok {
		return e.arena.posn(h), nil
	}
	p, err := e.arena.newPosn()
	if err != nil {
		return nil, err
	}
	p.Trader = trader
	p.Key = key
	acct.InsertPosition(key, p.Handle)
	return p, nil
}
