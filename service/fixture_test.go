package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/refdata"
)

var (
	t0     = time.Date(2014, 3, 14, 9, 0, 0, 0, time.UTC)
	errIO  = errors.New("disk on fire")
	market = "EURUSD.MAR14"
)

type entry struct {
	op     string
	id     int64
	rev    int32
	status orderbook.Status
	resd   int64
	lots   int64
}

// memJournal records committed writes and fails the nth call of one op.
type memJournal struct {
	nextID int64
	open   bool

	pending   []entry
	committed []entry

	failOp    string
	failNth   int
	seen      map[string]int
	rollbacks int
}

func newMemJournal() *memJournal {
	return &memJournal{seen: make(map[string]int)}
}

func (j *memJournal) failAt(op string, nth int) {
	j.failOp = op
	j.failNth = nth
	j.seen = make(map[string]int)
}

func (j *memJournal) hit(op string) error {
	j.seen[op]++
	if op == j.failOp && j.seen[op] == j.failNth {
		return errIO
	}
	return nil
}

func (j *memJournal) write(e entry) error {
	if !j.open {
		return errors.New("no transaction")
	}
	if err := j.hit(e.op); err != nil {
		return err
	}
	j.pending = append(j.pending, e)
	return nil
}

func (j *memJournal) AllocID() int64 {
	j.nextID++
	return j.nextID
}

func (j *memJournal) Begin() error {
	if err := j.hit("begin"); err != nil {
		return err
	}
	j.open = true
	return nil
}

func (j *memJournal) Commit() error {
	if err := j.hit("commit"); err != nil {
		return err
	}
	j.committed = append(j.committed, j.pending...)
	j.pending = nil
	j.open = false
	return nil
}

func (j *memJournal) Rollback() error {
	j.pending = nil
	j.open = false
	j.rollbacks++
	return nil
}

func (j *memJournal) InsertOrder(o *orderbook.Order) error {
	return j.write(entry{op: "insert_order", id: o.ID, rev: o.Rev, status: o.Status, resd: o.Resd, lots: o.Lots})
}

func (j *memJournal) UpdateOrder(id int64, rev int32, status orderbook.Status, resd, _, lots int64, _ time.Time) error {
	return j.write(entry{op: "update_order", id: id, rev: rev, status: status, resd: resd, lots: lots})
}

func (j *memJournal) InsertTrade(t *ledger.Trade) error {
	return j.write(entry{op: "insert_trade", id: t.ID, rev: t.Rev, status: t.Status, resd: t.Resd, lots: t.LastLots})
}

func (j *memJournal) ArchiveOrder(id int64, _ time.Time) error {
	return j.write(entry{op: "archive_order", id: id})
}

func (j *memJournal) ArchiveTrade(id int64, _ time.Time) error {
	return j.write(entry{op: "archive_trade", id: id})
}

func (j *memJournal) ops() []string {
	out := make([]string, len(j.committed))
	for i, e := range j.committed {
		out[i] = e.op
	}
	return out
}

type fill struct {
	order orderbook.Order
	trade ledger.Trade
	posn  ledger.Position
}

type recNotifier struct {
	mu    sync.Mutex
	fills []fill
}

func (n *recNotifier) MakerFill(o orderbook.Order, t ledger.Trade, p ledger.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fills = append(n.fills, fill{o, t, p})
}

func testCatalog(t testing.TB) *refdata.Catalog {
	t.Helper()
	c, err := refdata.New(
		[]refdata.Market{
			{Mnem: market, Contr: "EURUSD", SettlDay: 20140316},
			{Mnem: "GBPUSD.MAR14", Contr: "GBPUSD", SettlDay: 20140316},
			{Mnem: "USDJPY.MAR14", Contr: "USDJPY", SettlDay: 20140316, Closed: true},
		},
		[]refdata.Trader{{Mnem: "MARAYL"}, {Mnem: "GOSAYL"}, {Mnem: "TOBAYL"}, {Mnem: "EMIAYL"}},
	)
	require.NoError(t, err)
	return c
}

type harness struct {
	*Engine
	j  *memJournal
	nt *recNotifier
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	j := newMemJournal()
	nt := &recNotifier{}
	return &harness{Engine: New(cfg, j, testCatalog(t), WithNotifier(nt)), j: j, nt: nt}
}

func (h *harness) submit(t *testing.T, trader string, side orderbook.Side, ticks, lots int64) orderbook.Order {
	t.Helper()
	o, err := h.Submit(SubmitRequest{Trader: trader, Market: market, Side: side, Ticks: ticks, Lots: lots}, t0)
	require.NoError(t, err)
	return o
}

// snapshot captures everything a rolled back operation must leave intact.
type snapshot struct {
	bids, offers []orderbook.Quote
	orders       map[string][]orderbook.Order
	trades       map[string][]ledger.Trade
	posns        map[string][]ledger.Position
	stats        ArenaStats
}

func (h *harness) snapshot(t *testing.T) snapshot {
	t.Helper()
	bids, offers, err := h.Depth(market, 100)
	require.NoError(t, err)
	s := snapshot{
		bids: bids, offers: offers,
		orders: map[string][]orderbook.Order{},
		trades: map[string][]ledger.Trade{},
		posns:  map[string][]ledger.Position{},
		stats:  h.Stats(),
	}
	// Blocks are never returned, so only outstanding records are compared.
	s.stats.SmallBlocks, s.stats.LargeBlocks = 0, 0
	for _, tr := range []string{"MARAYL", "GOSAYL", "TOBAYL", "EMIAYL"} {
		s.orders[tr] = h.Orders(tr)
		s.trades[tr] = h.Trades(tr)
		s.posns[tr] = h.Positions(tr)
	}
	return s
}

func benchCatalog(b *testing.B) *refdata.Catalog {
	return testCatalog(b)
}
