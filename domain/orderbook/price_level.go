package orderbook

import "kestrel/infra/memory"

// Level is a FIFO queue of resting orders at a single price.
type Level struct {
	Handle memory.Handle

	Side  Side
	Ticks int64

	// Lots is the aggregate residual of every order at the level.
	Lots  int64
	Count int

	head *Order
	tail *Order
}

func (l *Level) push(o *Order) {
	if l.head == nil {
		l.head = o
		l.tail = o
	} else {
		l.tail.next = o
		o.prev = l.tail
		l.tail = o
	}
	o.level = l
	l.Lots += o.Resd
	l.Count++
}

func (l *Level) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	o.level = nil

	l.Lots -= o.Resd
	l.Count--
}

func (l *Level) Empty() bool {
	return l.head == nil
}

// Head is the oldest order at the level.
func (l *Level) Head() *Order {
	return l.head
}
