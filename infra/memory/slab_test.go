package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	A, B int64
	Name [16]byte
}

func TestSlabAllocFreeReuse(t *testing.T) {
	s := NewSlab[rec](NewPool(Config{PageSize: 4096}), Small)

	h1, r1, err := s.Alloc()
	require.NoError(t, err)
	r1.A = 7

	got, ok := s.Get(h1)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.A)
	assert.Equal(t, 1, s.Outstanding())

	require.True(t, s.Free(h1))
	assert.Equal(t, 0, s.Outstanding())

	_, ok = s.Get(h1)
	assert.False(t, ok, "stale handle resolves")
	assert.False(t, s.Free(h1), "double free accepted")

	h2, r2, err := s.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, int64(0), r2.A, "reused slot not zeroed")
	assert.Same(t, r1, r2, "free list did not reuse the slot")
}

func TestSlabGrowsByBlock(t *testing.T) {
	p := NewPool(Config{PageSize: 1024})
	s := NewSlab[rec](p, Large)

	per := p.slotsPerBlock(unsafeSlotSize[rec]())
	for i := 0; i < per+1; i++ {
		_, _, err := s.Alloc()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.Blocks(Large))
	assert.Equal(t, 0, p.Blocks(Small))
	assert.Equal(t, 2*per, s.Capacity())
}

func TestSlotsPerBlockFillsPage(t *testing.T) {
	p := NewPool(Config{PageSize: 1024})
	assert.Equal(t, 15, p.slotsPerBlock(64))
	assert.Equal(t, 1, p.slotsPerBlock(960))
	assert.Equal(t, 1, p.slotsPerBlock(4096))
}

func TestSlabOutOfMemory(t *testing.T) {
	p := NewPool(Config{PageSize: 512, MaxSmallBlocks: 1})
	s := NewSlab[rec](p, Small)

	var handles []Handle
	for {
		h, _, err := s.Alloc()
		if err != nil {
			require.True(t, errors.Is(err, ErrOutOfMemory))
			break
		}
		handles = append(handles, h)
	}
	require.NotEmpty(t, handles)

	// Freed slots are still usable once the budget is spent.
	require.True(t, s.Free(handles[0]))
	_, _, err := s.Alloc()
	require.NoError(t, err)
}

func TestSlabChecksumTracksLeaks(t *testing.T) {
	s := NewSlab[rec](NewPool(Config{}), Small)
	base := s.Checksum()

	var hs []Handle
	for i := 0; i < 10; i++ {
		h, _, err := s.Alloc()
		require.NoError(t, err)
		hs = append(hs, h)
	}
	assert.NotEqual(t, base, s.Checksum())

	for _, h := range hs {
		s.Free(h)
	}
	assert.Equal(t, base, s.Checksum())
	assert.Equal(t, 0, s.Outstanding())
}

func TestNilHandle(t *testing.T) {
	s := NewSlab[rec](NewPool(Config{}), Small)
	_, ok := s.Get(NilHandle)
	assert.False(t, ok)
	assert.Equal(t, "nil", NilHandle.String())
}
