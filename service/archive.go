package service

import (
	"fmt"
	"time"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

// ArchiveOrder removes a completed order from trader's account and returns
// its slot to the arena. A missing order is reported as false, not as an
// error.
func (e *Engine) ArchiveOrder(trader string, id int64, now time.Time) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return false, nil
	}
	h, ok := acct.Order(id)
	if !ok {
		return false, nil
	}
	o := e.arena.order(h)
	if !o.Done() {
		return false, e.reject(OpArchive, fmt.Errorf("%w '%d'", ErrOrderNotDone, id))
	}

	if err := e.archive(acct, []*orderbook.Order{o}, nil, now); err != nil {
		return false, err
	}
	return true, nil
}

// ArchiveTrade removes a trade from trader's account. Positions keep the
// volume it contributed.
func (e *Engine) ArchiveTrade(trader string, id int64, now time.Time) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return false, nil
	}
	h, ok := acct.Trade(id)
	if !ok {
		return false, nil
	}
	if err := e.archive(acct, nil, []*ledger.Trade{e.arena.trade(h)}, now); err != nil {
		return false, err
	}
	return true, nil
}

// ArchiveAll archives every completed order and every trade of trader in
// one transaction and returns how many records were released.
func (e *Engine) ArchiveAll(trader string, now time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return 0, nil
	}
	var (
		orders []*orderbook.Order
		trades []*ledger.Trade
	)
	acct.Orders(func(_ int64, h memory.Handle) bool {
		if o := e.arena.order(h); o.Done() {
			orders = append(orders, o)
		}
		return true
	})
	acct.Trades(func(_ int64, h memory.Handle) bool {
		trades = append(trades, e.arena.trade(h))
		return true
	})
	if len(orders)+len(trades) == 0 {
		return 0, nil
	}
	if err := e.archive(acct, orders, trades, now); err != nil {
		return 0, err
	}
	return len(orders) + len(trades), nil
}

func (e *Engine) archive(acct *ledger.Account, orders []*orderbook.Order, trades []*ledger.Trade, now time.Time) error {
	t := e.newTxn(OpArchive, now)
	if err := t.begin(); err != nil {
		return err
	}
	for _, o := range orders {
		if err := e.journal.ArchiveOrder(o.ID, now); err != nil {
			return t.abort(journalErr("archive order", err))
		}
	}
	for _, tr := range trades {
		if err := e.journal.ArchiveTrade(tr.ID, now); err != nil {
			return t.abort(journalErr("archive trade", err))
		}
	}
	if err := t.commit(); err != nil {
		return err
	}

	var id int64
	for _, o := range orders {
		id = o.ID
		acct.RemoveOrder(o.ID, o.Ref)
		e.arena.orders.Free(o.Handle)
	}
	for _, tr := range trades {
		acct.RemoveTrade(tr.ID)
		e.arena.trades.Free(tr.Handle)
	}
	t.done(id)
	return nil
}
