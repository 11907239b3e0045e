package ledger

import (
	"github.com/tidwall/btree"

	"kestrel/infra/memory"
)

const degree = 32

// Account indexes one trader's orders, trades and positions by handle.
// Records themselves live in the engine's slabs.
type Account struct {
	Trader string

	orders *btree.Map[int64, memory.Handle]
	refs   map[string]int64
	trades *btree.Map[int64, memory.Handle]
	posns  *btree.Map[string, memory.Handle]
}

func NewAccount(trader string) *Account {
	return &Account{
		Trader: trader,
		orders: btree.NewMap[int64, memory.Handle](degree),
		refs:   make(map[string]int64),
		trades: btree.NewMap[int64, memory.Handle](degree),
		posns:  btree.NewMap[string, memory.Handle](degree),
	}
}

func (a *Account) InsertOrder(id int64, ref string, h memory.Handle) {
	a.orders.Set(id, h)
	if ref != "" {
		a.refs[ref] = id
	}
}

func (a *Account) Order(id int64) (memory.Handle, bool) {
	return a.orders.Get(id)
}

// OrderByRef resolves a client reference to an order id.
func (a *Account) OrderByRef(ref string) (int64, bool) {
	id, ok := a.refs[ref]
	return id, ok
}

// ReleaseRef frees a client reference for reuse once its order is done.
func (a *Account) ReleaseRef(ref string, id int64) {
	if cur, ok := a.refs[ref]; ok && cur == id {
		delete(a.refs, ref)
	}
}

func (a *Account) RemoveOrder(id int64, ref string) (memory.Handle, bool) {
	h, ok := a.orders.Delete(id)
	if ok && ref != "" {
		a.ReleaseRef(ref, id)
	}
	return h, ok
}

// Orders visits orders in ascending id order until fn returns false.
func (a *Account) Orders(fn func(id int64, h memory.Handle) bool) {
	a.orders.Scan(fn)
}

func (a *Account) OrderCount() int {
	return a.orders.Len()
}

func (a *Account) InsertTrade(id int64, h memory.Handle) {
	a.trades.Set(id, h)
}

func (a *Account) Trade(id int64) (memory.Handle, bool) {
	return a.trades.Get(id)
}

func (a *Account) RemoveTrade(id int64) (memory.Handle, bool) {
	return a.trades.Delete(id)
}

// Trades visits trades in ascending id order until fn returns false.
func (a *Account) Trades(fn func(id int64, h memory.Handle) bool) {
	a.trades.Scan(fn)
}

func (a *Account) TradeCount() int {
	return a.trades.Len()
}

func (a *Account) InsertPosition(k PosnKey, h memory.Handle) {
	a.posns.Set(k.String(), h)
}

func (a *Account) Position(k PosnKey) (memory.Handle, bool) {
	return a.posns.Get(k.String())
}

// Positions visits positions ordered by contract then settlement day.
func (a *Account) Positions(fn func(h memory.Handle) bool) {
	a.posns.Scan(func(_ string, h memory.Handle) bool {
		return fn(h)
	})
}

// Empty reports whether the account indexes nothing.
func (a *Account) Empty() bool {
	return a.orders.Len() == 0 && a.trades.Len() == 0 && a.posns.Len() == 0
}
