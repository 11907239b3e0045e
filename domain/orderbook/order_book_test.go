package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/infra/memory"
)

var t0 = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	book   *Book
	levels *memory.Slab[Level]
	nextID int64
}

func newFixture() *fixture {
	levels := memory.NewSlab[Level](memory.NewPool(memory.Config{}), memory.Small)
	return &fixture{book: NewBook("EURUSD", levels, 0), levels: levels}
}

func (f *fixture) place(t *testing.T, side Side, ticks, lots int64) *Order {
	t.Helper()
	f.nextID++
	o := &Order{ID: f.nextID, Side: side, Ticks: ticks, Lots: lots, Resd: lots, Rev: 1, Created: t0, Modified: t0}
	require.NoError(t, f.book.Insert(o))
	return o
}

func TestBestBidOfferPriority(t *testing.T) {
	f := newFixture()
	f.place(t, Buy, 100, 1)
	f.place(t, Buy, 102, 2)
	f.place(t, Buy, 101, 3)
	f.place(t, Sell, 105, 4)
	f.place(t, Sell, 103, 5)
	f.place(t, Sell, 104, 6)

	require.NotNil(t, f.book.BestBid())
	assert.Equal(t, int64(102), f.book.BestBid().Ticks)
	require.NotNil(t, f.book.BestOffer())
	assert.Equal(t, int64(103), f.book.BestOffer().Ticks)

	assert.Equal(t, []Quote{{102, 2, 1}, {101, 3, 1}, {100, 1, 1}}, f.book.Depth(Buy, 5))
	assert.Equal(t, []Quote{{103, 5, 1}, {104, 6, 1}}, f.book.Depth(Sell, 2))
}

func TestTimePriorityWithinLevel(t *testing.T) {
	f := newFixture()
	a := f.place(t, Sell, 101, 1)
	b := f.place(t, Sell, 101, 2)
	c := f.place(t, Sell, 101, 3)

	lvl := f.book.BestOffer()
	assert.Same(t, a, lvl.Head())
	assert.Same(t, b, lvl.Head().Next())
	assert.Same(t, c, lvl.Head().Next().Next())
	assert.Equal(t, int64(6), lvl.Lots)
	assert.Equal(t, 3, lvl.Count)

	// A partial fill keeps the order at the front.
	f.book.Take(b, 1, t0)
	assert.Same(t, a, lvl.Head())
	assert.Equal(t, Partial, b.Status)
	assert.Equal(t, int64(5), lvl.Lots)
}

func TestTakeRemovesFilledOrder(t *testing.T) {
	f := newFixture()
	o := f.place(t, Buy, 100, 10)

	f.book.Take(o, 4, t0.Add(time.Second))
	assert.Equal(t, int64(6), o.Resd)
	assert.Equal(t, int64(4), o.Exec)
	assert.Equal(t, int32(2), o.Rev)
	assert.Equal(t, int64(4), o.LastLots)
	assert.Equal(t, int64(100), o.LastTicks)
	assert.True(t, o.Resting())

	f.book.Take(o, 6, t0.Add(2*time.Second))
	assert.Equal(t, Filled, o.Status)
	assert.False(t, o.Resting())
	assert.Nil(t, f.book.BestBid())
	assert.Equal(t, 0, f.levels.Outstanding())
}

func TestReviseBelowExecutedFails(t *testing.T) {
	f := newFixture()
	o := f.place(t, Buy, 100, 10)
	f.book.Take(o, 4, t0)
	rev := o.Rev

	err := f.book.Revise(o, 3, t0)
	assert.ErrorIs(t, err, ErrInvalidLots)
	assert.Equal(t, rev, o.Rev)
	assert.Equal(t, int64(6), o.Resd)
	assert.Equal(t, int64(6), f.book.BestBid().Lots)

	assert.ErrorIs(t, f.book.Revise(o, 11, t0), ErrInvalidLots, "revise may only reduce")
	assert.ErrorIs(t, f.book.Revise(o, 0, t0), ErrInvalidLots)
}

func TestReviseAdjustsAggregate(t *testing.T) {
	f := newFixture()
	o := f.place(t, Sell, 100, 10)
	f.place(t, Sell, 100, 5)
	f.book.Take(o, 2, t0)

	require.NoError(t, f.book.Revise(o, 6, t0))
	assert.Equal(t, int64(4), o.Resd)
	assert.Equal(t, int64(2), o.Exec)
	assert.Equal(t, Revised, o.Status)
	assert.Equal(t, int64(9), f.book.BestOffer().Lots)

	// Revising down to the executed quantity completes the order.
	require.NoError(t, f.book.Revise(o, 2, t0))
	assert.Equal(t, Filled, o.Status)
	assert.False(t, o.Resting())
	assert.Equal(t, int64(5), f.book.BestOffer().Lots)
}

func TestCancelSoleOrderRemovesLevel(t *testing.T) {
	f := newFixture()
	f.place(t, Buy, 99, 1)
	o := f.place(t, Buy, 100, 3)

	f.book.Cancel(o, t0)
	assert.Equal(t, Cancelled, o.Status)
	assert.Equal(t, int64(0), o.Resd)
	assert.Equal(t, int32(2), o.Rev)
	assert.Equal(t, int64(99), f.book.BestBid().Ticks)
	assert.Equal(t, []Quote{{99, 1, 1}}, f.book.Depth(Buy, 10))
	assert.Equal(t, 1, f.book.Levels(Buy))
}

func TestRemoveUndoesInsert(t *testing.T) {
	f := newFixture()
	o := f.place(t, Sell, 110, 2)
	require.NoError(t, f.book.Remove(o))
	assert.True(t, f.book.Empty())
	assert.ErrorIs(t, f.book.Remove(o), ErrNotResting)
	assert.Equal(t, New, o.Status)
	assert.Equal(t, int64(2), o.Resd)
}

func TestLevelChurnKeepsQueueBounded(t *testing.T) {
	f := newFixture()
	keep := f.place(t, Sell, 500, 1)
	for i := int64(0); i < 200; i++ {
		o := f.place(t, Sell, 600+i, 1)
		f.book.Cancel(o, t0)
	}
	assert.Equal(t, 1, f.book.Levels(Sell))
	assert.LessOrEqual(t, f.book.offers.queue.Len(), 2*1+16+1)
	assert.Same(t, keep, f.book.BestOffer().Head())
}

func TestLevelLimit(t *testing.T) {
	levels := memory.NewSlab[Level](memory.NewPool(memory.Config{}), memory.Small)
	book := NewBook("X", levels, 1)
	require.NoError(t, book.Insert(&Order{Side: Buy, Ticks: 1, Lots: 1, Resd: 1}))
	err := book.Insert(&Order{Side: Buy, Ticks: 2, Lots: 1, Resd: 1})
	require.Error(t, err)
	assert.Equal(t, 1, levels.Outstanding(), "failed insert leaked a level")
}

func TestLevelLimitReclaimsDeadEntries(t *testing.T) {
	levels := memory.NewSlab[Level](memory.NewPool(memory.Config{}), memory.Small)
	book := NewBook("X", levels, 2)
	require.NoError(t, book.Insert(&Order{Side: Sell, Ticks: 10, Lots: 1, Resd: 1}))
	worse := &Order{Side: Sell, Ticks: 20, Lots: 1, Resd: 1}
	require.NoError(t, book.Insert(worse))
	book.Cancel(worse, t0)

	require.NoError(t, book.Insert(&Order{Side: Sell, Ticks: 15, Lots: 1, Resd: 1}))
	assert.Equal(t, []Quote{{10, 1, 1}, {15, 1, 1}}, book.Depth(Sell, 5))
}

func TestWalkRestoresLadder(t *testing.T) {
	f := newFixture()
	for i := int64(0); i < 50; i++ {
		f.place(t, Buy, 100+i, 1)
	}
	stale := f.place(t, Buy, 10, 1)
	require.NoError(t, f.book.Remove(stale))

	visited := 0
	f.book.Walk(Buy, func(*Level) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
	assert.Equal(t, int64(149), f.book.BestBid().Ticks)

	full := f.book.Depth(Buy, 100)
	require.Len(t, full, 50)
	assert.Equal(t, int64(149), full[0].Ticks)
	assert.Equal(t, int64(100), full[49].Ticks)
	assert.Equal(t, full, f.book.Depth(Buy, 100))
}
