package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing identifiers. The zero value
// starts at 1.
type Sequencer struct {
	last atomic.Int64
}

// New returns a sequencer whose next identifier is last+1.
func New(last int64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next returns the next identifier.
func (s *Sequencer) Next() int64 {
	return s.last.Add(1)
}

// Last returns the most recently issued identifier.
func (s *Sequencer) Last() int64 {
	return s.last.Load()
}

// Observe raises the sequencer so that Next never returns v or lower.
// Used while replaying persisted state.
func (s *Sequencer) Observe(v int64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
