package vmkm

import (
	"sync"
	"testing"

	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var setupOnce sync.Once

func setup(t *testing.T) {
	t.Helper()
	setupOnce.Do(func() {
		vmpage.Init(16*1024*1024, 4096)
		vmobject.Init()
		pmap.Bootstrap(4096, 12)
		pmap.Init()
		Init(0x40000000, 0x80000000, 0x100000)
	})
}

func TestAllocVAOnlyReservesDistinctRanges(t *testing.T) {
	setup(t)

	a, err := Alloc(0x1000, FlagsVAOnly)
	require.Equal(t, defs.OK, err)

	b, err := Alloc(0x2000, FlagsVAOnly)
	require.Equal(t, defs.OK, err)

	assert.NotEqual(t, a, b)
	assert.False(t, a < b && a+0x1000 > b, "allocations must not overlap")
}

func TestAllocWiredBacksPages(t *testing.T) {
	setup(t)

	va, err := Alloc(0x1000, FlagsWired)
	require.Equal(t, defs.OK, err)
	assert.NotZero(t, va)

	_, err2 := Alloc(0x1000, FlagsWired|FlagsZero)
	require.Equal(t, defs.OK, err2)
}

func TestAllocThenFree(t *testing.T) {
	setup(t)

	va, err := Alloc(0x1000, FlagsVAOnly)
	require.Equal(t, defs.OK, err)

	Free(va, 0x1000, FlagsVAOnly)

	va2, err := Alloc(0x1000, FlagsVAOnly)
	require.Equal(t, defs.OK, err)
	assert.NotZero(t, va2)
}

func TestStealMemoryExhaustion(t *testing.T) {
	InitStealArena(make([]byte, 64))

	b := StealMemory(32)
	require.NotNil(t, b)
	assert.Len(t, b, 32)

	b2 := StealMemory(32)
	require.NotNil(t, b2)

	b3 := StealMemory(1)
	assert.Nil(t, b3, "arena should be exhausted")
}
