package orderbook

import (
	"errors"
	"time"

	"kestrel/infra/memory"
	"kestrel/infra/prioq"
)

// Quote is one aggregated level of book depth.
type Quote struct {
	Ticks int64
	Lots  int64
	Count int
}

type ladder struct {
	side    Side
	byTicks map[int64]memory.Handle
	// queue holds level handles keyed so the best price pops first.
	// Handles of removed levels stay until pruned; the top is always live.
	queue *prioq.Queue[memory.Handle]
	// walked holds levels popped by Walk until they are pushed back.
	walked []walked
}

type walked struct {
	key int64
	h   memory.Handle
}

func (l *ladder) key(ticks int64) int64 {
	if l.side == Buy {
		return -ticks
	}
	return ticks
}

// Book is the per-market order book. It is single-writer; the engine
// serialises every call.
type Book struct {
	Market string

	levels *memory.Slab[Level]
	bids   ladder
	offers ladder
}

// NewBook creates an empty book drawing levels from slab. maxLevels caps
// the levels per side; zero means unbounded.
func NewBook(market string, levels *memory.Slab[Level], maxLevels int) *Book {
	return &Book{
		Market: market,
		levels: levels,
		bids: ladder{
			side:    Buy,
			byTicks: make(map[int64]memory.Handle),
			queue:   prioq.New[memory.Handle](0, maxLevels),
		},
		offers: ladder{
			side:    Sell,
			byTicks: make(map[int64]memory.Handle),
			queue:   prioq.New[memory.Handle](0, maxLevels),
		},
	}
}

func (b *Book) ladder(s Side) *ladder {
	if s == Buy {
		return &b.bids
	}
	return &b.offers
}

// Insert places o at the back of its price level, creating the level on
// first use. On error the book is unchanged.
func (b *Book) Insert(o *Order) error {
	ld := b.ladder(o.Side)
	if h, ok := ld.byTicks[o.Ticks]; ok {
		lvl, _ := b.levels.Get(h)
		lvl.push(o)
		return nil
	}

	h, lvl, err := b.levels.Alloc()
	if err != nil {
		return err
	}
	if err := b.push(ld, o.Ticks, h); err != nil {
		b.levels.Free(h)
		return err
	}
	lvl.Handle = h
	lvl.Side = o.Side
	lvl.Ticks = o.Ticks
	ld.byTicks[o.Ticks] = h
	lvl.push(o)
	return nil
}

// push queues level h, compacting dead entries once if the queue is full.
func (b *Book) push(ld *ladder, ticks int64, h memory.Handle) error {
	err := ld.queue.Push(ld.key(ticks), h)
	if !errors.Is(err, prioq.ErrFull) {
		return err
	}
	b.compact(ld)
	return ld.queue.Push(ld.key(ticks), h)
}

// Take reduces a resting order by lots at its own price, bumping its
// revision and removing it once its residual reaches zero.
func (b *Book) Take(o *Order, lots int64, now time.Time) {
	if lvl := o.level; lvl != nil {
		lvl.Lots -= lots
		o.Fill(lots, o.Ticks, now)
		if o.Done() {
			b.unlink(o)
		}
		return
	}
	o.Fill(lots, o.Ticks, now)
}

// Revise reduces the order total to lots. Executed quantity is preserved
// and the level aggregate follows the new residual.
func (b *Book) Revise(o *Order, lots int64, now time.Time) error {
	if err := o.CheckRevise(lots); err != nil {
		return err
	}
	resd, status := o.Revised(lots)
	if lvl := o.level; lvl != nil {
		lvl.Lots -= o.Resd - resd
	}
	o.Lots = lots
	o.Resd = resd
	o.Status = status
	o.Rev++
	o.Modified = now
	if o.Done() && o.level != nil {
		b.unlink(o)
	}
	return nil
}

// Cancel removes the order from the book regardless of its residual.
func (b *Book) Cancel(o *Order, now time.Time) {
	if o.level != nil {
		b.unlink(o)
	}
	o.Resd = 0
	o.Status = Cancelled
	o.Rev++
	o.Modified = now
}

// Remove unlinks o without touching its state. It undoes an Insert.
func (b *Book) Remove(o *Order) error {
	if o.level == nil {
		return ErrNotResting
	}
	b.unlink(o)
	return nil
}

func (b *Book) unlink(o *Order) {
	lvl := o.level
	lvl.unlink(o)
	if lvl.Count > 0 {
		return
	}

	ld := b.ladder(lvl.Side)
	delete(ld.byTicks, lvl.Ticks)
	b.levels.Free(lvl.Handle)
	b.prune(ld)
}

// prune drops dead handles from the top of the queue so the best level
// is always at the front, and compacts once dead entries dominate.
func (b *Book) prune(ld *ladder) {
	for !ld.queue.Empty() {
		_, h := ld.queue.Peek()
		if _, ok := b.levels.Get(h); ok {
			break
		}
		ld.queue.Pop()
	}
	if ld.queue.Len() > 2*len(ld.byTicks)+16 {
		b.compact(ld)
	}
}

func (b *Book) compact(ld *ladder) {
	ld.queue.Filter(func(_ int64, h memory.Handle) bool {
		_, ok := b.levels.Get(h)
		return ok
	})
}

func (b *Book) best(s Side) *Level {
	ld := b.ladder(s)
	if ld.queue.Empty() {
		return nil
	}
	_, h := ld.queue.Peek()
	lvl, _ := b.levels.Get(h)
	return lvl
}

// BestBid returns the highest buy level, or nil when there are no bids.
func (b *Book) BestBid() *Level {
	return b.best(Buy)
}

// BestOffer returns the lowest sell level, or nil when there are no offers.
func (b *Book) BestOffer() *Level {
	return b.best(Sell)
}

// Walk visits the levels of side s best first until fn returns false.
// Levels are popped from the live queue as they are reached and pushed
// back afterwards, so the cost follows the levels visited, not the depth
// of the book. fn must not modify the book.
func (b *Book) Walk(s Side, fn func(*Level) bool) {
	ld := b.ladder(s)
	seen := ld.walked[:0]
	for !ld.queue.Empty() {
		k, h := ld.queue.Pop()
		lvl, ok := b.levels.Get(h)
		if !ok {
			continue
		}
		seen = append(seen, walked{key: k, h: h})
		if !fn(lvl) {
			break
		}
	}
	// The queue held at least these entries before, so pushing them back
	// never grows it.
	for _, w := range seen {
		_ = ld.queue.Push(w.key, w.h)
	}
	ld.walked = seen[:0]
}

// Depth returns up to n aggregated levels of side s, best first.
func (b *Book) Depth(s Side, n int) []Quote {
	out := make([]Quote, 0, n)
	if n <= 0 {
		return out
	}
	b.Walk(s, func(l *Level) bool {
		out = append(out, Quote{Ticks: l.Ticks, Lots: l.Lots, Count: l.Count})
		return len(out) < n
	})
	return out
}

// Levels is the number of live levels on side s.
func (b *Book) Levels(s Side) int {
	return len(b.ladder(s).byTicks)
}

// Empty reports whether neither side has resting orders.
func (b *Book) Empty() bool {
	return len(b.bids.byTicks) == 0 && len(b.offers.byTicks) == 0
}
