package pmap

import (
	"sync"
	"testing"

	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var setupOnce sync.Once

func setup(t *testing.T) {
	t.Helper()
	setupOnce.Do(func() {
		vmpage.Init(16*1024*1024, 4096)
		Bootstrap(4096, 12)
		Init()
	})
}

func allocFrame(t *testing.T) (*vmpage.Page_t, uintptr) {
	t.Helper()
	pg := vmpage.Alloc(nil, 0)
	require.NotNil(t, pg)
	return pg, vmpage.ToPA(pg)
}

func TestMairValue(t *testing.T) {
	assert.Equal(t, uint64(0x88aabbfff4440400), MairValue())
}

func TestEnterExtractRemove(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	p := Create()
	defer Destroy(p)

	va := uint64(0x40001000)
	Enter(p, va, pa, ProtRead|ProtWrite, FlagsWired)

	got, ok := Extract(p, va)
	require.True(t, ok)
	assert.Equal(t, pa, got)

	// Interior offsets translate too.
	got, ok = Extract(p, va+0x123)
	require.True(t, ok)
	assert.Equal(t, pa+0x123, got)

	assert.Equal(t, 1, p.Stats.WiredCount)
	assert.Equal(t, 1, p.Stats.ResidentCount)

	Remove(p, va, va+0x1000)
	_, ok = Extract(p, va)
	assert.False(t, ok)
	assert.Zero(t, p.ttb, "removing the last mapping reclaims every page table")
}

func TestEnterReplaceIsBreakBeforeMake(t *testing.T) {
	setup(t)

	pg1, pa1 := allocFrame(t)
	pg2, pa2 := allocFrame(t)
	defer vmpage.Free(pg1)
	defer vmpage.Free(pg2)

	p := Create()
	defer Destroy(p)

	va := uint64(0x40002000)
	Enter(p, va, pa1, ProtRead|ProtWrite, FlagsNone)
	Enter(p, va, pa2, ProtRead|ProtWrite, FlagsNone)

	got, ok := Extract(p, va)
	require.True(t, ok)
	assert.Equal(t, pa2, got, "a replaced PTE yields the new output address")

	Remove(p, va, va+0x1000)
}

func TestProtectUpdatesOnlyPermissionBits(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	p := Create()
	defer Destroy(p)

	va := uint64(0x40003000)
	Enter(p, va, pa, ProtRead|ProtWrite, FlagsNone)

	_, _, bpl, ok := _lookup(p, va)
	require.True(t, ok)
	require.Equal(t, bpApRw, bpl.ap)

	Protect(p, va, va+0x1000, ProtRead)

	gotPA, _, bpl, ok := _lookup(p, va)
	require.True(t, ok)
	assert.Equal(t, bpApRo, bpl.ap, "write permission dropped")
	assert.Equal(t, bpMaAttr_t(MaNormalWBWARA), bpl.ma, "memory attributes preserved")
	assert.Equal(t, uint64(pa), gotPA&^uint64(pageSize-1), "output address preserved")

	Remove(p, va, va+0x1000)
}

func TestPageProtectWalksReverseIndex(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	user := Create()
	defer Destroy(user)

	kva := uint64(0x50000000)
	uva := uint64(0x00400000)
	Enter(Kernel(), kva, pa, ProtRead|ProtWrite, FlagsNone)
	Enter(user, uva, pa, ProtRead|ProtWrite, FlagsNone)

	PageProtect(pa, ProtRead)

	_, _, bpl, ok := _lookup(Kernel(), kva)
	require.True(t, ok)
	assert.Equal(t, bpApRoNoEL0, bpl.ap, "kernel mapping of the frame went read-only")

	_, _, bpl, ok = _lookup(user, uva)
	require.True(t, ok)
	assert.Equal(t, bpApRo, bpl.ap, "user mapping of the frame went read-only")

	Remove(Kernel(), kva, kva+0x1000)
	Remove(user, uva, uva+0x1000)
}

func TestPageProtectAllProtIsNoop(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	p := Create()
	defer Destroy(p)

	va := uint64(0x40005000)
	Enter(p, va, pa, ProtRead|ProtWrite, FlagsNone)

	PageProtect(pa, ProtAll)

	_, _, bpl, ok := _lookup(p, va)
	require.True(t, ok)
	assert.Equal(t, bpApRw, bpl.ap, "requesting full access changes nothing")

	Remove(p, va, va+0x1000)
}

func TestKenterPAAndKremovePA(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	va := uint64(0x60000000)
	KenterPA(va, pa, ProtRead|ProtWrite, FlagsNoCache)

	_, _, bpl, ok := _lookup(Kernel(), va)
	require.True(t, ok)
	assert.Equal(t, bpMaAttr_t(MaDeviceNGnRnE), bpl.ma, "NOCACHE selects device memory")

	KremovePA(va, 0x1000)
	_, ok = Extract(Kernel(), va)
	assert.False(t, ok)
}

func TestWriteCombineSelectsNormalNC(t *testing.T) {
	setup(t)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	va := uint64(0x60010000)
	KenterPA(va, pa, ProtRead|ProtWrite, FlagsWriteCombine|FlagsWired)

	_, _, bpl, ok := _lookup(Kernel(), va)
	require.True(t, ok)
	assert.Equal(t, bpMaAttr_t(MaNormalNC), bpl.ma)

	KremovePA(va, 0x1000)
}

func TestAsidAllocationWrapsAndReuses(t *testing.T) {
	setup(t)

	p1 := Create()
	p2 := Create()
	assert.NotZero(t, p1.Asid(), "ASID 0 belongs to the kernel")
	assert.NotZero(t, p2.Asid())
	assert.NotEqual(t, p1.Asid(), p2.Asid())

	Destroy(p1)
	Destroy(p2)

	// Churn through far more address spaces than the 8-bit tag space
	// holds; freed tags must be recycled without exhaustion.
	for i := 0; i < 600; i++ {
		p := Create()
		assert.NotZero(t, p.Asid())
		Destroy(p)
	}
}

func Test64KBGranuleUsesThreeLevels(t *testing.T) {
	setup(t)
	t.Cleanup(func() { Bootstrap(4096, 12) })

	Bootstrap(65536, 16)

	pg, pa := allocFrame(t)
	defer vmpage.Free(pg)

	p := Create()
	defer Destroy(p)

	va := uint64(0x40000000)
	Enter(p, va, pa, ProtRead|ProtWrite, FlagsNone)

	got, ok := Extract(p, va)
	require.True(t, ok)
	assert.Equal(t, pa, got)

	Remove(p, va, va+0x10000)
	_, ok = Extract(p, va)
	assert.False(t, ok)
	assert.Zero(t, p.ttb, "the shallower hierarchy is reclaimed cleanly too")
}
