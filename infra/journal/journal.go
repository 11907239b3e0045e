// Package journal persists engine transactions. Two drivers exist: a
// Pebble store that keeps current order and trade rows, and a
// segmented write-ahead log that keeps the change history.
package journal

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

var (
	ErrNoTxn     = errors.New("journal: no transaction in progress")
	ErrTxnOpen   = errors.New("journal: transaction already in progress")
	ErrNotFound  = errors.New("journal: record not found")
	ErrBadDriver = errors.New("journal: unknown driver")
)

// State is what a journal holds on disk.
type State struct {
	// Orders are the unarchived orders ascending by id.
	Orders []orderbook.Order
	// Trades are all trades ascending by id.
	Trades []ledger.Trade
	// LastID is the highest identifier ever allocated.
	LastID int64
}

// finish orders the state by id and restores each order's last fill from
// its most recent trade, since order updates do not carry it.
func (s *State) finish() {
	slices.SortFunc(s.Orders, func(a, b orderbook.Order) int {
		return cmp.Compare(a.ID, b.ID)
	})
	slices.SortFunc(s.Trades, func(a, b ledger.Trade) int {
		return cmp.Compare(a.ID, b.ID)
	})

	idx := make(map[int64]int, len(s.Orders))
	for i := range s.Orders {
		idx[s.Orders[i].ID] = i
	}
	for _, t := range s.Trades {
		if i, ok := idx[t.OrderID]; ok {
			s.Orders[i].LastLots = t.LastLots
			s.Orders[i].LastTicks = t.LastTicks
		}
	}
}

func orderKey(id int64) []byte  { return fmt.Appendf(nil, "order/%020d", id) }
func tradeKey(id int64) []byte  { return fmt.Appendf(nil, "trade/%020d", id) }
func outboxKey(id int64) []byte { return fmt.Appendf(nil, "outbox/%020d", id) }

var metaNextID = []byte("meta/last_id")
