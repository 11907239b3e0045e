package refdata

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/config"
)

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.RefData{
		Markets: []config.Market{
			{Mnem: "GBPUSD.MAR14", Contr: "GBPUSD", SettlDay: 20140316, TickSize: "0.0001"},
			{Mnem: "EURUSD.MAR14", Contr: "EURUSD", SettlDay: 20140316},
		},
		Traders: []config.Trader{{Mnem: "MARAYL"}},
	})
	require.NoError(t, err)

	m, ok := c.Market("GBPUSD.MAR14")
	require.True(t, ok)
	assert.True(t, m.Price(15345).Equal(decimal.RequireFromString("1.5345")))
	assert.True(t, m.Average(3*15345+15347, 4).Equal(decimal.RequireFromString("1.53455")))
	assert.True(t, c.TickSize("EURUSD").Equal(decimal.New(1, 0)))

	_, ok = c.Trader("MARAYL")
	assert.True(t, ok)
	_, ok = c.Trader("NOBODY")
	assert.False(t, ok)

	ms := c.Markets()
	require.Len(t, ms, 2)
	assert.Equal(t, "EURUSD.MAR14", ms[0].Mnem)
}

func TestFromConfigBadTick(t *testing.T) {
	_, err := FromConfig(config.RefData{Markets: []config.Market{{Mnem: "X", Contr: "X", TickSize: "abc"}}})
	assert.Error(t, err)
}

func TestNewDuplicateTrader(t *testing.T) {
	_, err := New(nil, []Trader{{Mnem: "A"}, {Mnem: "A"}})
	assert.Error(t, err)
}
