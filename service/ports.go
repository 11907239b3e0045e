package service

import (
	"time"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/refdata"
)

// Journal is the durability collaborator. Writes between Begin and Commit
// form one atomic unit; any failure inside it is followed by Rollback.
type Journal interface {
	AllocID() int64
	Begin() error
	Commit() error
	Rollback() error
	InsertOrder(o *orderbook.Order) error
	UpdateOrder(id int64, rev int32, status orderbook.Status, resd, exec, lots int64, now time.Time) error
	InsertTrade(t *ledger.Trade) error
	ArchiveOrder(id int64, now time.Time) error
	ArchiveTrade(id int64, now time.Time) error
}

// Catalog resolves reference data. The engine never mutates it.
type Catalog interface {
	Market(mnem string) (refdata.Market, bool)
	Trader(mnem string) (refdata.Trader, bool)
}

// Notifier is told, after commit, about every fill of a resting order.
// It must not block; the engine ignores the outcome.
type Notifier interface {
	MakerFill(order orderbook.Order, trade ledger.Trade, posn ledger.Position)
}

// Observer receives operation outcomes, typically for metrics.
type Observer interface {
	Committed(op Op, matches int)
	RolledBack(op Op, at State)
	Rejected(op Op)
}

type nopNotifier struct{}

func (nopNotifier) MakerFill(orderbook.Order, ledger.Trade, ledger.Position) {}

type nopObserver struct{}

func (nopObserver) Committed(Op, int)    {}
func (nopObserver) RolledBack(Op, State) {}
func (nopObserver) Rejected(Op)          {}
