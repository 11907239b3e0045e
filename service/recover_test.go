package service

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

func TestRecoverRebuildsState(t *testing.T) {
	src := newHarness(t, Config{})
	src.submit(t, "GOSAYL", orderbook.Sell, 101, 10)
	src.submit(t, "TOBAYL", orderbook.Sell, 101, 3)
	src.submit(t, "MARAYL", orderbook.Buy, 101, 12)
	src.submit(t, "EMIAYL", orderbook.Buy, 95, 7)
	gone := src.Trades("MARAYL")[0]
	ok, err := src.ArchiveTrade("MARAYL", gone.ID, t0)
	require.NoError(t, err)
	require.True(t, ok)

	var rec Recovery
	for _, who := range []string{"EMIAYL", "GOSAYL", "MARAYL", "TOBAYL"} {
		rec.Orders = append(rec.Orders, src.Orders(who)...)
		rec.Trades = append(rec.Trades, src.Trades(who)...)
	}
	gone.Archived = true
	rec.Trades = append(rec.Trades, gone)
	sort.Slice(rec.Orders, func(i, j int) bool { return rec.Orders[i].ID < rec.Orders[j].ID })
	sort.Slice(rec.Trades, func(i, j int) bool { return rec.Trades[i].ID < rec.Trades[j].ID })

	dst := newHarness(t, Config{})
	require.NoError(t, dst.Recover(rec))

	want, got := src.snapshot(t), dst.snapshot(t)
	assert.Equal(t, want.bids, got.bids)
	assert.Equal(t, want.offers, got.offers)
	assert.Equal(t, unhandled(want.posns), unhandled(got.posns))
	for who := range want.trades {
		assert.Len(t, got.trades[who], len(want.trades[who]))
		assert.Len(t, got.orders[who], len(want.orders[who]))
	}
	assert.Equal(t, src.Stats().Orders, dst.Stats().Orders)

	assert.Error(t, dst.Recover(rec), "recover twice")
}

func TestConcurrentSubmitsSerialise(t *testing.T) {
	h := newHarness(t, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := orderbook.Buy
			trader := "MARAYL"
			if i%2 == 1 {
				side = orderbook.Sell
				trader = "GOSAYL"
			}
			for n := 0; n < 50; n++ {
				_, err := h.Submit(SubmitRequest{Trader: trader, Market: market, Side: side, Ticks: 100, Lots: 1}, t0)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	var bought, sold int64
	for _, p := range h.Positions("MARAYL") {
		bought += p.BuyLots
	}
	for _, p := range h.Positions("GOSAYL") {
		sold += p.SellLots
	}
	assert.Equal(t, bought, sold)
	assert.Equal(t, int64(200), bought, "equal buy and sell flow at one price must fully cross")
	_, ok := h.BestBid(market)
	assert.False(t, ok)
	assert.Equal(t, []ledger.Position(nil), h.Positions("TOBAYL"))
}

// unhandled strips arena handles, which depend on allocation order.
func unhandled(in map[string][]ledger.Position) map[string][]ledger.Position {
	out := make(map[string][]ledger.Position, len(in))
	for k, ps := range in {
		cp := make([]ledger.Position, len(ps))
		for i, p := range ps {
			p.Handle = 0
			cp[i] = p
		}
		out[k] = cp
	}
	return out
}
