package vmmap

import (
	"testing"

	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T) *Map_t {
	t.Helper()
	return Create(pmap.Kernel(), 0x1000, 0x100000)
}

func TestEnterAtDisjointRanges(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	require.Equal(t, defs.OK, EnterAt(m, 0x2000, 0x1000, obj, 0, pmap.ProtRead))
	require.Equal(t, defs.OK, EnterAt(m, 0x4000, 0x1000, obj, 0x1000, pmap.ProtRead))

	assert.Equal(t, defs.EINVAL, EnterAt(m, 0x2800, 0x1000, obj, 0, pmap.ProtRead))

	mp, ok := Lookup(m, 0x2800)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), mp.Vstart)
	assert.Equal(t, uint64(0x3000), mp.Vend)
}

func TestEnterAtMergesAdjacentIdenticalMapping(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	require.Equal(t, defs.OK, EnterAt(m, 0x2000, 0x1000, obj, 0, pmap.ProtRead))
	require.Equal(t, defs.OK, EnterAt(m, 0x3000, 0x1000, obj, 0x1000, pmap.ProtRead))

	mp, ok := Lookup(m, 0x2800)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), mp.Vstart)
	assert.Equal(t, uint64(0x4000), mp.Vend, "contiguous same-object/prot mappings should merge into one record")
}

func TestEnterFirstFit(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	a, err := Enter(m, 0x1000, obj, 0, pmap.ProtRead)
	require.Equal(t, defs.OK, err)
	assert.Equal(t, m.Start, a)

	b, err := Enter(m, 0x2000, obj, 0, pmap.ProtRead)
	require.Equal(t, defs.OK, err)
	assert.Equal(t, a+0x1000, b, "second allocation should land immediately after the first")

	require.Equal(t, defs.OK, Remove(m, a, a+0x1000))

	c, err := Enter(m, 0x800, obj, 0, pmap.ProtRead)
	require.Equal(t, defs.OK, err)
	assert.Equal(t, a, c, "freed hole should be reused by a smaller later allocation")
}

func TestRemoveSplitsStraddlingMapping(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	require.Equal(t, defs.OK, EnterAt(m, 0x2000, 0x3000, obj, 0, pmap.ProtRead))
	require.Equal(t, defs.OK, Remove(m, 0x3000, 0x4000))

	_, ok := Lookup(m, 0x3500)
	assert.False(t, ok, "middle third should be unmapped")

	left, ok := Lookup(m, 0x2500)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), left.Vstart)
	assert.Equal(t, uint64(0x3000), left.Vend)

	right, ok := Lookup(m, 0x4500)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4000), right.Vstart)
	assert.Equal(t, uint64(0x5000), right.Vend)
}

func TestProtectSplitsOnlyChangedRange(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	require.Equal(t, defs.OK, EnterAt(m, 0x2000, 0x3000, obj, 0, pmap.ProtRead|pmap.ProtWrite))
	require.Equal(t, defs.OK, Protect(m, 0x3000, 0x4000, pmap.ProtRead))

	left, _ := Lookup(m, 0x2500)
	assert.Equal(t, pmap.ProtRead|pmap.ProtWrite, left.Prot)

	mid, _ := Lookup(m, 0x3500)
	assert.Equal(t, pmap.ProtRead, mid.Prot)

	right, _ := Lookup(m, 0x4500)
	assert.Equal(t, pmap.ProtRead|pmap.ProtWrite, right.Prot)
}

func TestEnterOutOfBoundsFails(t *testing.T) {
	m := newTestMap(t)
	obj := vmobject.New()

	assert.Equal(t, defs.ENOMEM, EnterAt(m, 0x10, 0x1000, obj, 0, pmap.ProtRead))
	assert.Equal(t, defs.ENOMEM, EnterAt(m, m.End-0x10, 0x1000, obj, 0, pmap.ProtRead))
}

func TestEnterExhaustion(t *testing.T) {
	m := Create(pmap.Kernel(), 0x1000, 0x2000)
	obj := vmobject.New()

	_, err := Enter(m, 0x1000, obj, 0, pmap.ProtRead)
	require.Equal(t, defs.OK, err)

	_, err = Enter(m, 0x1000, obj, 0, pmap.ProtRead)
	assert.Equal(t, defs.ENOMEM, err)
}
