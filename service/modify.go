package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

func (e *Engine) lookup(trader string, id int64) (*orderbook.Order, error) {
	acct, ok := e.accounts[trader]
	if !ok {
		return nil, fmt.Errorf("%w '%d'", ErrOrderNotFound, id)
	}
	h, ok := acct.Order(id)
	if !ok {
		return nil, fmt.Errorf("%w '%d'", ErrOrderNotFound, id)
	}
	return e.arena.order(h), nil
}

func (e *Engine) lookupRef(trader, ref string) (*orderbook.Order, error) {
	acct, ok := e.accounts[trader]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrOrderNotFound, ref)
	}
	id, ok := acct.OrderByRef(ref)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrOrderNotFound, ref)
	}
	return e.lookup(trader, id)
}

// lookupIDs resolves ids in order, dropping repeats.
func (e *Engine) lookupIDs(trader string, ids []int64) ([]*orderbook.Order, error) {
	seen := make(map[int64]bool, len(ids))
	out := make([]*orderbook.Order, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		o, err := e.lookup(trader, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func live(o *orderbook.Order) error {
	if o.Done() || o.Status.Terminal() {
		return fmt.Errorf("%w '%d'", ErrOrderDone, o.ID)
	}
	return nil
}

func views(orders []*orderbook.Order) []orderbook.Order {
	out := make([]orderbook.Order, len(orders))
	for i, o := range orders {
		out[i] = o.View()
	}
	return out
}

// ReviseByID reduces the total lots of a live order.
func (e *Engine) ReviseByID(trader string, id, lots int64, now time.Time) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookup(trader, id)
	if err != nil {
		return orderbook.Order{}, e.reject(OpRevise, err)
	}
	if err := e.revise([]*orderbook.Order{o}, lots, now); err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

// ReviseByRef is ReviseByID keyed by client reference.
func (e *Engine) ReviseByRef(trader, ref string, lots int64, now time.Time) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookupRef(trader, ref)
	if err != nil {
		return orderbook.Order{}, e.reject(OpRevise, err)
	}
	if err := e.revise([]*orderbook.Order{o}, lots, now); err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

// ReviseIDs revises every listed order to lots in one transaction. Either
// all are revised or none is.
func (e *Engine) ReviseIDs(trader string, ids []int64, lots int64, now time.Time) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders, err := e.lookupIDs(trader, ids)
	if err != nil {
		return nil, e.reject(OpRevise, err)
	}
	if err := e.revise(orders, lots, now); err != nil {
		return nil, err
	}
	return views(orders), nil
}

func (e *Engine) revise(orders []*orderbook.Order, lots int64, now time.Time) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if err := o.CheckRevise(lots); err != nil {
			return e.reject(OpRevise, bookErr(err, o.ID))
		}
	}

	t := e.newTxn(OpRevise, now)
	if err := t.begin(); err != nil {
		return err
	}
	for _, o := range orders {
		resd, status := o.Revised(lots)
		if err := e.journal.UpdateOrder(o.ID, o.Rev+1, status, resd, o.Exec, lots, now); err != nil {
			return t.abort(journalErr("update order", err))
		}
	}
	if err := t.commit(); err != nil {
		return err
	}

	for _, o := range orders {
		if err := e.book(o.Market).Revise(o, lots, now); err != nil {
			// Checked above under the same lock.
			e.log.Error("revise after commit", zap.Int64("order", o.ID), zap.Error(err))
		}
	}
	t.done(orders[0].ID)
	return nil
}

// CancelByID withdraws a live order from its book.
func (e *Engine) CancelByID(trader string, id int64, now time.Time) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookup(trader, id)
	if err != nil {
		return orderbook.Order{}, e.reject(OpCancel, err)
	}
	if err := e.cancel([]*orderbook.Order{o}, now); err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

// CancelByRef is CancelByID keyed by client reference.
func (e *Engine) CancelByRef(trader, ref string, now time.Time) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookupRef(trader, ref)
	if err != nil {
		return orderbook.Order{}, e.reject(OpCancel, err)
	}
	if err := e.cancel([]*orderbook.Order{o}, now); err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

// CancelIDs cancels every listed order in one transaction.
func (e *Engine) CancelIDs(trader string, ids []int64, now time.Time) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders, err := e.lookupIDs(trader, ids)
	if err != nil {
		return nil, e.reject(OpCancel, err)
	}
	if err := e.cancel(orders, now); err != nil {
		return nil, err
	}
	return views(orders), nil
}

// CancelAll cancels every live order of trader. It is a no-op for a
// trader with nothing live.
func (e *Engine) CancelAll(trader string, now time.Time) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return nil, nil
	}
	var orders []*orderbook.Order
	acct.Orders(func(_ int64, h memory.Handle) bool {
		if o := e.arena.order(h); live(o) == nil {
			orders = append(orders, o)
		}
		return true
	})
	if len(orders) == 0 {
		return nil, nil
	}
	if err := e.cancel(orders, now); err != nil {
		return nil, err
	}
	return views(orders), nil
}

// CancelMarket cancels every order resting in market, bids first.
func (e *Engine) CancelMarket(market string, now time.Time) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[market]
	if !ok {
		return nil, nil
	}
	var orders []*orderbook.Order
	for _, s := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		b.Walk(s, func(l *orderbook.Level) bool {
			for o := l.Head(); o != nil; o = o.Next() {
				orders = append(orders, o)
			}
			return true
		})
	}
	if len(orders) == 0 {
		return nil, nil
	}
	if err := e.cancel(orders, now); err != nil {
		return nil, err
	}
	return views(orders), nil
}

func (e *Engine) cancel(orders []*orderbook.Order, now time.Time) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if err := live(o); err != nil {
			return e.reject(OpCancel, err)
		}
	}

	t := e.newTxn(OpCancel, now)
	if err := t.begin(); err != nil {
		return err
	}
	for _, o := range orders {
		if err := e.journal.UpdateOrder(o.ID, o.Rev+1, orderbook.Cancelled, 0, o.Exec, o.Lots, now); err != nil {
			return t.abort(journalErr("update order", err))
		}
	}
	if err := t.commit(); err != nil {
		return err
	}

	for _, o := range orders {
		e.book(o.Market).Cancel(o, now)
	}
	t.done(orders[0].ID)
	return nil
}
