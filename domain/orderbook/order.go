package orderbook

import (
	"time"

	"kestrel/infra/memory"
)

type Side int8
type Status uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

const (
	New Status = iota
	Partial
	Filled
	Revised
	Cancelled
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	case Revised:
		return "REVISED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled
}

// Order is a domain entity living in an arena slot.
// Resd + Exec == Lots holds after every mutation.
type Order struct {
	Handle memory.Handle

	ID       int64
	Trader   string
	Market   string
	Contr    string
	SettlDay int32
	Ref      string

	Side    Side
	Ticks   int64
	Lots    int64
	Resd    int64
	Exec    int64
	MinLots int64

	Rev       int32
	Status    Status
	LastLots  int64
	LastTicks int64

	Created  time.Time
	Modified time.Time

	level *Level
	next  *Order
	prev  *Order
}

// Done reports whether the order has nothing left to execute.
func (o *Order) Done() bool {
	return o.Resd == 0
}

// View returns a copy of o detached from its level, safe to hand out of
// the engine.
func (o *Order) View() Order {
	v := *o
	v.level, v.next, v.prev = nil, nil, nil
	return v
}

// Resting reports whether the order is linked into a book level.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Next is the following order at the same level, in arrival order.
func (o *Order) Next() *Order {
	return o.next
}

// Fill executes lots at ticks against the order and bumps its revision.
func (o *Order) Fill(lots, ticks int64, now time.Time) {
	o.Resd -= lots
	o.Exec += lots
	o.LastLots = lots
	o.LastTicks = ticks
	o.Rev++
	if o.Resd == 0 {
		o.Status = Filled
	} else {
		o.Status = Partial
	}
	o.Modified = now
}

// CheckRevise validates a reduction of the order's total to lots.
func (o *Order) CheckRevise(lots int64) error {
	if o.Done() || o.Status.Terminal() {
		return ErrOrderDone
	}
	if lots <= 0 || lots < o.MinLots || lots < o.Exec || lots > o.Lots {
		return ErrInvalidLots
	}
	return nil
}

// Revised returns the state the order takes after a revision to lots.
func (o *Order) Revised(lots int64) (resd int64, status Status) {
	resd = lots - o.Exec
	if resd == 0 {
		return 0, Filled
	}
	return resd, Revised
}
