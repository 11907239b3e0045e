package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kestrel/domain/ledger"
	"kestrel/domain/matching"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
	"kestrel/infra/refdata"
)

type Config struct {
	Memory memory.Config
	// MaxLevels caps price levels per book side. Zero is unbounded.
	MaxLevels int
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.obs = o }
}

// Engine is the execution coordinator. All methods are safe for concurrent
// use; each runs to completion under a single mutex.
type Engine struct {
	mu sync.Mutex

	journal Journal
	catalog Catalog
	notify  Notifier
	obs     Observer
	log     *zap.Logger

	arena     *arena
	matcher   *matching.Matcher
	books     map[string]*orderbook.Book
	accounts  map[string]*ledger.Account
	maxLevels int
}

func New(cfg Config, j Journal, c Catalog, opts ...Option) *Engine {
	a := newArena(cfg.Memory, j)
	e := &Engine{
		journal:   j,
		catalog:   c,
		notify:    nopNotifier{},
		obs:       nopObserver{},
		log:       zap.NewNop(),
		arena:     a,
		matcher:   matching.NewMatcher(a),
		books:     make(map[string]*orderbook.Book),
		accounts:  make(map[string]*ledger.Account),
		maxLevels: cfg.MaxLevels,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitRequest describes a new limit order.
type SubmitRequest struct {
	Trader  string
	Market  string
	Ref     string
	Side    orderbook.Side
	Ticks   int64
	Lots    int64
	MinLots int64
}

func (e *Engine) book(mnem string) *orderbook.Book {
	b, ok := e.books[mnem]
	if !ok {
		b = e.newBook(mnem)
		e.books[mnem] = b
	}
	return b
}

// pendingBook returns the book for mnem without registering a new one.
// applySubmit registers it once the first order into it has committed.
func (e *Engine) pendingBook(mnem string) *orderbook.Book {
	if b, ok := e.books[mnem]; ok {
		return b
	}
	return e.newBook(mnem)
}

func (e *Engine) newBook(mnem string) *orderbook.Book {
	return orderbook.NewBook(mnem, e.arena.levels, e.maxLevels)
}

func (e *Engine) account(trader string) *ledger.Account {
	a, ok := e.accounts[trader]
	if !ok {
		a = ledger.NewAccount(trader)
		e.accounts[trader] = a
	}
	return a
}

func (e *Engine) reject(op Op, err error) error {
	e.obs.Rejected(op)
	e.log.Info("operation rejected", zap.Stringer("op", op), zap.Error(err))
	return err
}

func (e *Engine) validateSubmit(req SubmitRequest) (refdata.Market, error) {
	mkt, ok := e.catalog.Market(req.Market)
	if !ok {
		return mkt, fmt.Errorf("%w '%s'", ErrMarketNotFound, req.Market)
	}
	if mkt.Closed {
		return mkt, fmt.Errorf("%w '%s'", ErrMarketClosed, req.Market)
	}
	if _, ok := e.catalog.Trader(req.Trader); !ok {
		return mkt, fmt.Errorf("%w '%s'", ErrTraderNotFound, req.Trader)
	}
	if req.Ticks <= 0 {
		return mkt, fmt.Errorf("%w '%d'", ErrInvalidTicks, req.Ticks)
	}
	if req.Lots <= 0 || req.MinLots < 0 || req.MinLots > req.Lots {
		return mkt, fmt.Errorf("%w: lots %d min %d", ErrInvalidLots, req.Lots, req.MinLots)
	}
	if req.Ref != "" {
		if acct, ok := e.accounts[req.Trader]; ok {
			if _, ok := acct.OrderByRef(req.Ref); ok {
				return mkt, fmt.Errorf("%w '%s'", ErrRefExists, req.Ref)
			}
		}
	}
	return mkt, nil
}

// Submit places a new order, matching it against the opposing side of its
// market and resting any residual. It returns the order as committed.
func (e *Engine) Submit(req SubmitRequest, now time.Time) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mkt, err := e.validateSubmit(req)
	if err != nil {
		return orderbook.Order{}, e.reject(OpSubmit, err)
	}
	book := e.pendingBook(mkt.Mnem)

	t := e.newTxn(OpSubmit, now)
	o, err := e.arena.newOrder()
	if err != nil {
		return orderbook.Order{}, t.abort(err)
	}
	t.order = o
	t.state = Allocated

	o.ID = e.journal.AllocID()
	o.Trader = req.Trader
	o.Market = mkt.Mnem
	o.Contr = mkt.Contr
	o.SettlDay = mkt.SettlDay
	o.Ref = req.Ref
	o.Side = req.Side
	o.Ticks = req.Ticks
	o.Lots = req.Lots
	o.Resd = req.Lots
	o.MinLots = req.MinLots
	o.Rev = 1
	o.Status = orderbook.New
	o.Created = now
	o.Modified = now

	if err := t.begin(); err != nil {
		return orderbook.Order{}, err
	}
	if err := e.journal.InsertOrder(o); err != nil {
		return orderbook.Order{}, t.abort(journalErr("insert order", err))
	}
	ms, err := e.matcher.Match(book, o, now)
	if err != nil {
		return orderbook.Order{}, t.abort(err)
	}
	t.matches = ms
	t.state = Matched

	if len(ms) > 0 {
		if err := e.preparePositions(t); err != nil {
			return orderbook.Order{}, t.abort(err)
		}
		if err := e.journalMatches(t); err != nil {
			return orderbook.Order{}, t.abort(err)
		}
		last := ms[len(ms)-1].TakerTrade
		o.Rev = last.Rev
		o.Resd = last.Resd
		o.Exec = last.Exec
		o.Status = last.Status
		o.LastLots = last.LastLots
		o.LastTicks = last.LastTicks
	}
	t.state = TradesInserted

	if !o.Done() {
		if err := book.Insert(o); err != nil {
			return orderbook.Order{}, t.abort(err)
		}
		t.rested = book
	}
	if err := t.commit(); err != nil {
		return orderbook.Order{}, err
	}

	e.applySubmit(t, book)
	t.done(o.ID)
	return o.View(), nil
}

// preparePositions resolves or allocates every position the matches will
// touch, so nothing can fail once the journal has committed.
func (e *Engine) preparePositions(t *txn) error {
	o := t.order
	key := ledger.PosnKey{Contr: o.Contr, SettlDay: o.SettlDay}
	p, err := t.position(o.Trader, key)
	if err != nil {
		return err
	}
	t.takerPosn = p
	for _, m := range t.matches {
		mk := ledger.PosnKey{Contr: m.Maker.Contr, SettlDay: m.Maker.SettlDay}
		if m.MakerPosn, err = t.position(m.Maker.Trader, mk); err != nil {
			return err
		}
	}
	return nil
}

// journalMatches writes taker and maker state and both trades for every
// match, in execution order.
func (e *Engine) journalMatches(t *txn) error {
	o := t.order
	for _, m := range t.matches {
		tt := m.TakerTrade
		if err := e.journal.UpdateOrder(o.ID, tt.Rev, tt.Status, tt.Resd, tt.Exec, o.Lots, t.now); err != nil {
			return journalErr("update taker", err)
		}
		if err := e.journal.InsertTrade(tt); err != nil {
			return journalErr("insert taker trade", err)
		}
		mt := m.MakerTrade
		if err := e.journal.UpdateOrder(m.Maker.ID, mt.Rev, mt.Status, mt.Resd, mt.Exec, m.Maker.Lots, t.now); err != nil {
			return journalErr("update maker", err)
		}
		if err := e.journal.InsertTrade(mt); err != nil {
			return journalErr("insert maker trade", err)
		}
	}
	return nil
}

// applySubmit publishes a committed submit to the book and the accounts.
// Nothing here can fail.
func (e *Engine) applySubmit(t *txn, book *orderbook.Book) {
	o := t.order
	e.books[book.Market] = book
	taker := e.account(o.Trader)
	taker.InsertOrder(o.ID, o.Ref, o.Handle)
	for _, p := range t.posns {
		e.account(p.Trader).InsertPosition(p.Key, p.Handle)
	}

	for _, m := range t.matches {
		book.Take(m.Maker, m.Lots, t.now)
		maker := e.account(m.Maker.Trader)

		taker.InsertTrade(m.TakerTrade.ID, m.TakerTrade.Handle)
		t.takerPosn.Apply(m.TakerTrade)

		maker.InsertTrade(m.MakerTrade.ID, m.MakerTrade.Handle)
		m.MakerPosn.Apply(m.MakerTrade)

		e.notify.MakerFill(m.Maker.View(), *m.MakerTrade, *m.MakerPosn)
		e.arena.dropMatch(m)
	}
	t.order = nil
	t.posns = nil
	t.rested = nil
}

// Stats reports arena usage.
func (e *Engine) Stats() ArenaStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arena.stats()
}
