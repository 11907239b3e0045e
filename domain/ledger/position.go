package ledger

import (
	"fmt"

	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

// PosnKey identifies a position within a trader's account.
type PosnKey struct {
	Contr    string
	SettlDay int32
}

func (k PosnKey) String() string {
	return fmt.Sprintf("%s/%08d", k.Contr, k.SettlDay)
}

// Position aggregates executed volume for one trader, contract and
// settlement day. Licks are lots times ticks.
type Position struct {
	Handle memory.Handle

	Trader string
	Key    PosnKey

	BuyLots   int64
	BuyLicks  int64
	SellLots  int64
	SellLicks int64
}

// Apply adds the trade's last fill to the buy or sell accumulator.
func (p *Position) Apply(t *Trade) {
	licks := t.LastLots * t.LastTicks
	if t.Side == orderbook.Buy {
		p.BuyLots += t.LastLots
		p.BuyLicks += licks
	} else {
		p.SellLots += t.LastLots
		p.SellLicks += licks
	}
}

// Net is bought minus sold lots.
func (p *Position) Net() int64 {
	return p.BuyLots - p.SellLots
}
