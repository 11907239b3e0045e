// Package matching fills a taker order against the resting liquidity of a
// book under price then time priority.
//
// Matching is read-only with respect to the book: it produces Match records
// describing the fills, each with the taker and maker trades already built,
// and leaves makers untouched. The caller journals the matches and applies
// them to the book once the journal has committed.
package matching

import (
	"time"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

// Match pairs a taker fill with one maker order.
type Match struct {
	Handle memory.Handle

	ID    int64
	Lots  int64
	Ticks int64

	Maker      *orderbook.Order
	MakerPosn  *ledger.Position
	TakerTrade *ledger.Trade
	MakerTrade *ledger.Trade
}

// Allocator supplies records and identifiers for a match pass.
type Allocator interface {
	NextID() int64
	NewMatch() (*Match, error)
	NewTrade() (*ledger.Trade, error)
	// FreeMatch releases the match along with any trades it owns.
	FreeMatch(*Match)
}

type Matcher struct {
	alloc Allocator
}

func NewMatcher(alloc Allocator) *Matcher {
	return &Matcher{alloc: alloc}
}

// crosses reports whether a taker on side s at ticks can trade at level.
func crosses(s orderbook.Side, ticks int64, level int64) bool {
	if s == orderbook.Buy {
		return level <= ticks
	}
	return level >= ticks
}

// Match walks the opposing side of book and returns the fills for taker
// in execution order. A fill smaller than the taker's minimum is skipped
// unless it completes the taker; the maker keeps its queue position.
// On error every record allocated by the pass has been released.
func (m *Matcher) Match(book *orderbook.Book, taker *orderbook.Order, now time.Time) ([]*Match, error) {
	var (
		out  []*Match
		err  error
		resd = taker.Resd
		exec = taker.Exec
		rev  = taker.Rev
	)

	book.Walk(taker.Side.Opposite(), func(lvl *orderbook.Level) bool {
		if !crosses(taker.Side, taker.Ticks, lvl.Ticks) {
			return false
		}
		for maker := lvl.Head(); maker != nil && resd > 0; maker = maker.Next() {
			lots := min(resd, maker.Resd)
			if lots < taker.MinLots && lots < resd {
				continue
			}

			var mt *Match
			mt, err = m.build(taker, maker, lots, now)
			if err != nil {
				return false
			}

			resd -= lots
			exec += lots
			rev++
			fill(mt.TakerTrade, rev, resd, exec, lots, lvl.Ticks)
			out = append(out, mt)
		}
		return resd > 0
	})

	if err != nil {
		m.Release(out)
		return nil, err
	}
	return out, nil
}

// build allocates a match and both of its trades. The taker trade is
// completed by the caller once the running taker state is known.
func (m *Matcher) build(taker, maker *orderbook.Order, lots int64, now time.Time) (*Match, error) {
	mt, err := m.alloc.NewMatch()
	if err != nil {
		return nil, err
	}
	tt, err := m.alloc.NewTrade()
	if err != nil {
		m.alloc.FreeMatch(mt)
		return nil, err
	}
	mt.TakerTrade = tt
	mk, err := m.alloc.NewTrade()
	if err != nil {
		m.alloc.FreeMatch(mt)
		return nil, err
	}
	mt.MakerTrade = mk

	mt.ID = m.alloc.NextID()
	mt.Lots = lots
	mt.Ticks = maker.Ticks
	mt.Maker = maker

	tt.Snapshot(taker)
	tt.ID = m.alloc.NextID()
	tt.MatchID = mt.ID
	tt.Role = ledger.Taker
	tt.Cpty = maker.Trader
	tt.Created = now

	mk.Snapshot(maker)
	mk.ID = m.alloc.NextID()
	mk.MatchID = mt.ID
	mk.Role = ledger.Maker
	mk.Cpty = taker.Trader
	mk.Created = now
	fill(mk, maker.Rev+1, maker.Resd-lots, maker.Exec+lots, lots, maker.Ticks)
	return mt, nil
}

func fill(t *ledger.Trade, rev int32, resd, exec, lots, ticks int64) {
	t.Rev = rev
	t.Resd = resd
	t.Exec = exec
	t.LastLots = lots
	t.LastTicks = ticks
	if resd == 0 {
		t.Status = orderbook.Filled
	} else {
		t.Status = orderbook.Partial
	}
}

// Release returns every match in ms, and the trades it owns, to the
// allocator.
func (m *Matcher) Release(ms []*Match) {
	for _, mt := range ms {
		m.alloc.FreeMatch(mt)
	}
}

// Taken sums the lots across ms.
func Taken(ms []*Match) int64 {
	var n int64
	for _, mt := range ms {
		n += mt.Lots
	}
	return n
}
