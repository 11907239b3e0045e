// Package refdata resolves market and trader mnemonics to their static
// records. The catalog is read-only once built.
package refdata

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"kestrel/config"
)

type Market struct {
	Mnem     string
	Contr    string
	SettlDay int32
	TickSize decimal.Decimal
	Closed   bool
}

// Price converts ticks to a decimal price.
func (m Market) Price(ticks int64) decimal.Decimal {
	return m.TickSize.Mul(decimal.NewFromInt(ticks))
}

// Average returns licks/lots as a decimal price, or zero with no lots.
func (m Market) Average(licks, lots int64) decimal.Decimal {
	if lots == 0 {
		return decimal.Zero
	}
	return m.TickSize.Mul(decimal.NewFromInt(licks)).Div(decimal.NewFromInt(lots))
}

type Trader struct {
	Mnem    string
	Display string
	Email   string
}

type Catalog struct {
	markets map[string]Market
	contrs  map[string]decimal.Decimal
	traders map[string]Trader
}

func New(markets []Market, traders []Trader) (*Catalog, error) {
	c := &Catalog{
		markets: make(map[string]Market, len(markets)),
		contrs:  make(map[string]decimal.Decimal),
		traders: make(map[string]Trader, len(traders)),
	}
	for _, m := range markets {
		if _, ok := c.markets[m.Mnem]; ok {
			return nil, fmt.Errorf("refdata: duplicate market %q", m.Mnem)
		}
		if m.TickSize.IsZero() {
			m.TickSize = decimal.New(1, 0)
		}
		c.markets[m.Mnem] = m
		c.contrs[m.Contr] = m.TickSize
	}
	for _, t := range traders {
		if _, ok := c.traders[t.Mnem]; ok {
			return nil, fmt.Errorf("refdata: duplicate trader %q", t.Mnem)
		}
		c.traders[t.Mnem] = t
	}
	return c, nil
}

// FromConfig builds a catalog from the refdata config section.
func FromConfig(cfg config.RefData) (*Catalog, error) {
	markets := make([]Market, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		tick := decimal.New(1, 0)
		if m.TickSize != "" {
			d, err := decimal.NewFromString(m.TickSize)
			if err != nil {
				return nil, fmt.Errorf("refdata: market %s tick size: %w", m.Mnem, err)
			}
			tick = d
		}
		markets = append(markets, Market{
			Mnem:     m.Mnem,
			Contr:    m.Contr,
			SettlDay: m.SettlDay,
			TickSize: tick,
			Closed:   m.Closed,
		})
	}
	traders := make([]Trader, 0, len(cfg.Traders))
	for _, t := range cfg.Traders {
		traders = append(traders, Trader{Mnem: t.Mnem, Display: t.Display, Email: t.Email})
	}
	return New(markets, traders)
}

func (c *Catalog) Market(mnem string) (Market, bool) {
	m, ok := c.markets[mnem]
	return m, ok
}

func (c *Catalog) Trader(mnem string) (Trader, bool) {
	t, ok := c.traders[mnem]
	return t, ok
}

// TickSize returns the tick size of contract contr, defaulting to one.
func (c *Catalog) TickSize(contr string) decimal.Decimal {
	if d, ok := c.contrs[contr]; ok {
		return d
	}
	return decimal.New(1, 0)
}

// Markets lists every market ordered by mnemonic.
func (c *Catalog) Markets() []Market {
	out := make([]Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mnem < out[j].Mnem })
	return out
}
