package memory

import "fmt"

// Handle addresses one slot in a Slab. The zero Handle is nil.
//
// Layout: [gen:32][index+1:32]. The generation is bumped every time the slot
// is released, so a handle kept past Free no longer resolves.
type Handle uint64

const NilHandle Handle = 0

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) IsNil() bool {
	return h == NilHandle
}

func (h Handle) index() uint32 {
	return uint32(h) - 1
}

func (h Handle) gen() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	if h.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", h.index(), h.gen())
}
