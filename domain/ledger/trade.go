package ledger

import (
	"time"

	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

type Role uint8

const (
	Maker Role = iota
	Taker
)

func (r Role) String() string {
	if r == Maker {
		return "MAKER"
	}
	return "TAKER"
}

// Trade is an immutable execution record. It carries a copy of its order's
// state as of the fill.
type Trade struct {
	Handle memory.Handle

	ID      int64
	MatchID int64
	OrderID int64

	Trader   string
	Market   string
	Contr    string
	SettlDay int32
	Ref      string

	Side    orderbook.Side
	Ticks   int64
	Lots    int64
	Resd    int64
	Exec    int64
	MinLots int64

	Rev       int32
	Status    orderbook.Status
	LastLots  int64
	LastTicks int64

	Role     Role
	Cpty     string
	Created  time.Time
	Archived bool
}

// Snapshot copies the order state into the trade.
func (t *Trade) Snapshot(o *orderbook.Order) {
	t.OrderID = o.ID
	t.Trader = o.Trader
	t.Market = o.Market
	t.Contr = o.Contr
	t.SettlDay = o.SettlDay
	t.Ref = o.Ref
	t.Side = o.Side
	t.Ticks = o.Ticks
	t.Lots = o.Lots
	t.Resd = o.Resd
	t.Exec = o.Exec
	t.MinLots = o.MinLots
	t.Rev = o.Rev
	t.Status = o.Status
	t.LastLots = o.LastLots
	t.LastTicks = o.LastTicks
}

// Key returns the position the trade accumulates into.
func (t *Trade) Key() PosnKey {
	return PosnKey{Contr: t.Contr, SettlDay: t.SettlDay}
}
