package service

import (
	"fmt"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

// Order returns a copy of one of trader's orders.
func (e *Engine) Order(trader string, id int64) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookup(trader, id)
	if err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

func (e *Engine) OrderByRef(trader, ref string) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.lookupRef(trader, ref)
	if err != nil {
		return orderbook.Order{}, err
	}
	return o.View(), nil
}

// Orders lists trader's indexed orders by ascending id.
func (e *Engine) Orders(trader string) []orderbook.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return nil
	}
	out := make([]orderbook.Order, 0, acct.OrderCount())
	acct.Orders(func(_ int64, h memory.Handle) bool {
		out = append(out, e.arena.order(h).View())
		return true
	})
	return out
}

// Trades lists trader's unarchived trades by ascending id.
func (e *Engine) Trades(trader string) []ledger.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return nil
	}
	out := make([]ledger.Trade, 0, acct.TradeCount())
	acct.Trades(func(_ int64, h memory.Handle) bool {
		out = append(out, *e.arena.trade(h))
		return true
	})
	return out
}

func (e *Engine) Positions(trader string) []ledger.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return nil
	}
	var out []ledger.Position
	acct.Positions(func(h memory.Handle) bool {
		out = append(out, *e.arena.posn(h))
		return true
	})
	return out
}

func (e *Engine) Position(trader, contr string, settlDay int32) (ledger.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, ok := e.accounts[trader]
	if !ok {
		return ledger.Position{}, false
	}
	h, ok := acct.Position(ledger.PosnKey{Contr: contr, SettlDay: settlDay})
	if !ok {
		return ledger.Position{}, false
	}
	return *e.arena.posn(h), true
}

func (e *Engine) marketBook(market string) (*orderbook.Book, error) {
	if b, ok := e.books[market]; ok {
		return b, nil
	}
	if _, ok := e.catalog.Market(market); !ok {
		return nil, fmt.Errorf("%w '%s'", ErrMarketNotFound, market)
	}
	return nil, nil
}

func quote(l *orderbook.Level) (orderbook.Quote, bool) {
	if l == nil {
		return orderbook.Quote{}, false
	}
	return orderbook.Quote{Ticks: l.Ticks, Lots: l.Lots, Count: l.Count}, true
}

func (e *Engine) BestBid(market string) (orderbook.Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[market]
	if !ok {
		return orderbook.Quote{}, false
	}
	return quote(b.BestBid())
}

func (e *Engine) BestOffer(market string) (orderbook.Quote, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[market]
	if !ok {
		return orderbook.Quote{}, false
	}
	return quote(b.BestOffer())
}

// Depth returns up to n levels per side of market, best first.
func (e *Engine) Depth(market string, n int) (bids, offers []orderbook.Quote, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.marketBook(market)
	if err != nil || b == nil {
		return nil, nil, err
	}
	return b.Depth(orderbook.Buy, n), b.Depth(orderbook.Sell, n), nil
}
