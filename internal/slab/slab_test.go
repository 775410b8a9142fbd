package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocUntilExhausted(t *testing.T) {
	s := Init(make([]byte, 256), 64)

	var blocks [][]byte
	for i := 0; i < 4; i++ {
		b := s.Alloc()
		require.NotNil(t, b)
		assert.Len(t, b, 64)
		blocks = append(blocks, b)
	}

	assert.Nil(t, s.Alloc(), "all four blocks are out")

	s.Free(blocks[2])
	again := s.Alloc()
	require.NotNil(t, again)
	assert.Equal(t, &blocks[2][0], &again[0], "freed block is handed out again")
}

func TestZallocZeroes(t *testing.T) {
	s := Init(make([]byte, 128), 64)

	b := s.Alloc()
	require.NotNil(t, b)
	for i := range b {
		b[i] = 0xa5
	}
	s.Free(b)

	z := s.Zalloc()
	require.NotNil(t, z)
	for i := range z {
		assert.Zero(t, z[i])
	}
}

func TestGrowAddsCapacity(t *testing.T) {
	s := Init(make([]byte, 64), 64)

	require.NotNil(t, s.Alloc())
	require.Nil(t, s.Alloc())

	s.Grow(make([]byte, 128))
	require.NotNil(t, s.Alloc())
	require.NotNil(t, s.Alloc())
	assert.Nil(t, s.Alloc())
}

func TestFreeFindsOwningPool(t *testing.T) {
	first := make([]byte, 128)
	second := make([]byte, 128)

	s := Init(first, 64)
	s.Grow(second)

	var blocks [][]byte
	for i := 0; i < 4; i++ {
		b := s.Alloc()
		require.NotNil(t, b)
		blocks = append(blocks, b)
	}

	// Free in mixed order; each block must return to its own pool.
	for _, b := range blocks {
		s.Free(b)
	}
	for i := 0; i < 4; i++ {
		require.NotNil(t, s.Alloc())
	}
}

func TestFreeForeignBlockPanics(t *testing.T) {
	s := Init(make([]byte, 128), 64)
	foreign := make([]byte, 64)

	assert.Panics(t, func() { s.Free(foreign) })
}

func TestShrinkReturnsEmptyPool(t *testing.T) {
	first := make([]byte, 128)
	second := make([]byte, 128)

	s := Init(first, 64)
	s.Grow(second)

	// second is the head pool and fully free; Shrink unlinks it.
	buf := s.Shrink()
	require.NotNil(t, buf)
	assert.Equal(t, &second[0], &buf[0])

	// Remaining capacity is just the first pool.
	require.NotNil(t, s.Alloc())
	require.NotNil(t, s.Alloc())
	assert.Nil(t, s.Alloc())

	assert.Nil(t, s.Shrink(), "no fully-free pool remains")
}
