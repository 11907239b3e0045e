package memory

import "unsafe"

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Slab hands out fixed-size slots of T. Slot addresses are stable for the
// lifetime of the slab: blocks are appended, never moved or released.
type Slab[T any] struct {
	pool     *Pool
	class    Class
	perBlock int

	blocks [][]slot[T]
	free   []uint32
	next   uint32

	live     int
	checksum uint64
}

func NewSlab[T any](p *Pool, c Class) *Slab[T] {
	return &Slab[T]{
		pool:     p,
		class:    c,
		perBlock: p.slotsPerBlock(unsafe.Sizeof(slot[T]{})),
	}
}

// Alloc returns a zeroed slot and its handle. It grows the slab by one
// block when the free list is empty.
func (s *Slab[T]) Alloc() (Handle, *T, error) {
	var idx uint32
	switch {
	case len(s.free) > 0:
		idx = s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
	case int(s.next) < len(s.blocks)*s.perBlock:
		idx = s.next
		s.next++
	default:
		if err := s.pool.reserve(s.class); err != nil {
			return NilHandle, nil, err
		}
		s.blocks = append(s.blocks, make([]slot[T], s.perBlock))
		idx = s.next
		s.next++
	}

	sl := s.at(idx)
	sl.used = true
	h := makeHandle(idx, sl.gen)
	s.live++
	s.checksum ^= uint64(h)
	return h, &sl.val, nil
}

// Free releases the slot behind h. It reports false for a nil or stale
// handle, leaving the slab untouched.
func (s *Slab[T]) Free(h Handle) bool {
	sl := s.resolve(h)
	if sl == nil {
		return false
	}
	var zero T
	sl.val = zero
	sl.used = false
	sl.gen++
	s.free = append(s.free, h.index())
	s.live--
	s.checksum ^= uint64(h)
	return true
}

// Get resolves h to its record.
func (s *Slab[T]) Get(h Handle) (*T, bool) {
	sl := s.resolve(h)
	if sl == nil {
		return nil, false
	}
	return &sl.val, true
}

// Outstanding is the number of allocated, not yet freed, slots.
func (s *Slab[T]) Outstanding() int {
	return s.live
}

// Checksum is the XOR of every outstanding handle. It returns to its
// previous value once every allocation since then has been freed.
func (s *Slab[T]) Checksum() uint64 {
	return s.checksum
}

// Capacity is the number of slots reserved across all blocks.
func (s *Slab[T]) Capacity() int {
	return len(s.blocks) * s.perBlock
}

func (s *Slab[T]) at(idx uint32) *slot[T] {
	return &s.blocks[int(idx)/s.perBlock][int(idx)%s.perBlock]
}

func (s *Slab[T]) resolve(h Handle) *slot[T] {
	if h.IsNil() || int(h.index()) >= int(s.next) {
		return nil
	}
	sl := s.at(h.index())
	if !sl.used || sl.gen != h.gen() {
		return nil
	}
	return sl
}
