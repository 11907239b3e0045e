package memory

import (
	"errors"
	"fmt"
	"os"
)

// ErrOutOfMemory is returned when a size class has exhausted its block
// budget. Callers abort the current operation; the pool stays usable.
var ErrOutOfMemory = errors.New("memory: out of memory")

// Class selects the block budget a slab draws from.
type Class uint8

const (
	Small Class = iota
	Large
)

func (c Class) String() string {
	switch c {
	case Small:
		return "small"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// blockHeader is the bookkeeping charged against every block before slots
// are carved out of the remaining page.
const blockHeader = 64

type Config struct {
	// PageSize is the block size in bytes. Zero means os.Getpagesize().
	PageSize int
	// MaxSmallBlocks and MaxLargeBlocks cap the blocks each class may
	// reserve. Zero means unbounded.
	MaxSmallBlocks int
	MaxLargeBlocks int
}

type budget struct {
	max    int
	blocks int
}

// Pool is the shared block reservation for all slabs of an engine.
// It is not safe for concurrent use; the engine serialises access.
type Pool struct {
	pageSize int
	classes  [2]budget
}

func NewPool(cfg Config) *Pool {
	ps := cfg.PageSize
	if ps <= 0 {
		ps = os.Getpagesize()
	}
	return &Pool{
		pageSize: ps,
		classes: [2]budget{
			Small: {max: cfg.MaxSmallBlocks},
			Large: {max: cfg.MaxLargeBlocks},
		},
	}
}

// reserve charges one block to class c.
func (p *Pool) reserve(c Class) error {
	b := &p.classes[c]
	if b.max > 0 && b.blocks >= b.max {
		return fmt.Errorf("%w: %s class at %d blocks", ErrOutOfMemory, c, b.blocks)
	}
	b.blocks++
	return nil
}

// slotsPerBlock is one page minus the header, divided into slots.
func (p *Pool) slotsPerBlock(slotSize uintptr) int {
	if slotSize == 0 {
		slotSize = 1
	}
	n := (p.pageSize - blockHeader) / int(slotSize)
	if n < 1 {
		return 1
	}
	return n
}

// Blocks reports the number of blocks reserved by class c.
func (p *Pool) Blocks(c Class) int {
	return p.classes[c].blocks
}

func (p *Pool) PageSize() int {
	return p.pageSize
}
