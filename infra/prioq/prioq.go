// Package prioq is a binary min-heap of (key, value) pairs.
//
// The backing array is grown by hand, doubling on overflow, so a capacity
// ceiling can be enforced and reported as an ordinary error.
package prioq

import "errors"

// ErrFull is returned by Push when the queue is at its capacity ceiling.
var ErrFull = errors.New("prioq: capacity exhausted")

const defaultCapacity = 16

type elem[V any] struct {
	key int64
	val V
}

type Queue[V any] struct {
	heap  []elem[V]
	limit int
}

// New returns an empty queue. A positive limit caps the number of
// elements; zero means unbounded.
func New[V any](capacity, limit int) *Queue[V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if limit > 0 && capacity > limit {
		capacity = limit
	}
	return &Queue[V]{
		heap:  make([]elem[V], 0, capacity),
		limit: limit,
	}
}

func (q *Queue[V]) Len() int {
	return len(q.heap)
}

func (q *Queue[V]) Empty() bool {
	return len(q.heap) == 0
}

func (q *Queue[V]) Push(key int64, v V) error {
	if len(q.heap) == cap(q.heap) {
		if err := q.grow(); err != nil {
			return err
		}
	}
	q.heap = append(q.heap, elem[V]{key: key, val: v})
	q.up(len(q.heap) - 1)
	return nil
}

// Pop removes the minimum-key pair. The queue must not be empty.
func (q *Queue[V]) Pop() (int64, V) {
	n := len(q.heap) - 1
	top := q.heap[0]
	q.heap[0] = q.heap[n]
	var zero elem[V]
	q.heap[n] = zero
	q.heap = q.heap[:n]
	if n > 0 {
		q.down(0)
	}
	return top.key, top.val
}

// Peek returns the minimum-key pair without removing it. The queue must
// not be empty.
func (q *Queue[V]) Peek() (int64, V) {
	return q.heap[0].key, q.heap[0].val
}

// Filter keeps only the pairs for which keep returns true and restores
// the heap order.
func (q *Queue[V]) Filter(keep func(key int64, v V) bool) {
	out := q.heap[:0]
	for _, e := range q.heap {
		if keep(e.key, e.val) {
			out = append(out, e)
		}
	}
	var zero elem[V]
	for i := len(out); i < len(q.heap); i++ {
		q.heap[i] = zero
	}
	q.heap = out
	for i := len(q.heap)/2 - 1; i >= 0; i-- {
		q.down(i)
	}
}

func (q *Queue[V]) grow() error {
	c := cap(q.heap)
	if q.limit > 0 && c >= q.limit {
		return ErrFull
	}
	next := c * 2
	if next == 0 {
		next = defaultCapacity
	}
	if q.limit > 0 && next > q.limit {
		next = q.limit
	}
	h := make([]elem[V], len(q.heap), next)
	copy(h, q.heap)
	q.heap = h
	return nil
}

func (q *Queue[V]) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if q.heap[p].key <= q.heap[i].key {
			return
		}
		q.heap[p], q.heap[i] = q.heap[i], q.heap[p]
		i = p
	}
}

func (q *Queue[V]) down(i int) {
	n := len(q.heap)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && q.heap[r].key < q.heap[l].key {
			m = r
		}
		if q.heap[i].key <= q.heap[m].key {
			return
		}
		q.heap[i], q.heap[m] = q.heap[m], q.heap[i]
		i = m
	}
}
