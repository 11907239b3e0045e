package service

import (
	"kestrel/domain/ledger"
	"kestrel/domain/matching"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
)

// arena owns one slab per record type. Orders and trades are drawn from
// the large class; levels, matches and positions from the small one.
type arena struct {
	pool    *memory.Pool
	orders  *memory.Slab[orderbook.Order]
	trades  *memory.Slab[ledger.Trade]
	levels  *memory.Slab[orderbook.Level]
	matches *memory.Slab[matching.Match]
	posns   *memory.Slab[ledger.Position]

	journal Journal
}

func newArena(cfg memory.Config, j Journal) *arena {
	p := memory.NewPool(cfg)
	return &arena{
		pool:    p,
		orders:  memory.NewSlab[orderbook.Order](p, memory.Large),
		trades:  memory.NewSlab[ledger.Trade](p, memory.Large),
		levels:  memory.NewSlab[orderbook.Level](p, memory.Small),
		matches: memory.NewSlab[matching.Match](p, memory.Small),
		posns:   memory.NewSlab[ledger.Position](p, memory.Small),
		journal: j,
	}
}

func (a *arena) NextID() int64 {
	return a.journal.AllocID()
}

func (a *arena) NewMatch() (*matching.Match, error) {
	h, m, err := a.matches.Alloc()
	if err != nil {
		return nil, err
	}
	m.Handle = h
	return m, nil
}

func (a *arena) NewTrade() (*ledger.Trade, error) {
	h, t, err := a.trades.Alloc()
	if err != nil {
		return nil, err
	}
	t.Handle = h
	return t, nil
}

func (a *arena) FreeMatch(m *matching.Match) {
	if m.TakerTrade != nil {
		a.trades.Free(m.TakerTrade.Handle)
	}
	if m.MakerTrade != nil {
		a.trades.Free(m.MakerTrade.Handle)
	}
	a.matches.Free(m.Handle)
}

// dropMatch releases the match record only; its trades now belong to
// the accounts.
func (a *arena) dropMatch(m *matching.Match) {
	a.matches.Free(m.Handle)
}

func (a *arena) newOrder() (*orderbook.Order, error) {
	h, o, err := a.orders.Alloc()
	if err != nil {
		return nil, err
	}
	o.Handle = h
	return o, nil
}

func (a *arena) newPosn() (*ledger.Position, error) {
	h, p, err := a.posns.Alloc()
	if err != nil {
		return nil, err
	}
	p.Handle = h
	return p, nil
}

func (a *arena) order(h memory.Handle) *orderbook.Order {
	o, _ := a.orders.Get(h)
	return o
}

func (a *arena) trade(h memory.Handle) *ledger.Trade {
	t, _ := a.trades.Get(h)
	return t
}

func (a *arena) posn(h memory.Handle) *ledger.Position {
	p, _ := a.posns.Get(h)
	return p
}

// ArenaStats reports outstanding records and reserved blocks.
type ArenaStats struct {
	Orders    int
	Trades    int
	Levels    int
	Matches   int
	Positions int

	SmallBlocks int
	LargeBlocks int

	// Checksum folds every slab checksum; it is stable across an operation
	// that was rolled back.
	Checksum uint64
}

func (a *arena) stats() ArenaStats {
	return ArenaStats{
		Orders:      a.orders.Outstanding(),
		Trades:      a.trades.Outstanding(),
		Levels:      a.levels.Outstanding(),
		Matches:     a.matches.Outstanding(),
		Positions:   a.posns.Outstanding(),
		SmallBlocks: a.pool.Blocks(memory.Small),
		LargeBlocks: a.pool.Blocks(memory.Large),
		Checksum: a.orders.Checksum() ^ a.trades.Checksum()<<1 ^ a.levels.Checksum()<<2 ^
			a.matches.Checksum()<<3 ^ a.posns.Checksum()<<4,
	}
}
