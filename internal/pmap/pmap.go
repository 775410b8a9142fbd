// Package pmap implements the AArch64 stage-1 VMSA page table
// manager: per-address-space page table walks with break-before-make
// TLB discipline, MAIR-indexed memory attributes, ASID tagging, and a
// per-physical-frame reverse index used by page_protect.
//
// The level count is granule-dependent (3 levels for a 64KB granule,
// 4 otherwise). A hosted build has no MMU of its own to enable, so
// Bootstrap only establishes the kernel pmap's bookkeeping; the
// hardware path would also identity-map the kernel, point
// TTBR0/TTBR1, and flip SCTLR.M. Page *table* storage is a synthetic
// address space private to this package (allocTable/tableAt below);
// page *data* frames come from internal/vmpage's mmap-backed arena.
package pmap

import (
	"sync"

	"github.com/0ctobyte/popcorn-sub000/internal/bitmap"
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/list"
	"github.com/0ctobyte/popcorn-sub000/internal/lock"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
)

type pte_t = uint64

// Upper (table-descriptor) attributes.
type nsAttr_t uint64
type apAttr_t uint64
type uxnAttr_t uint64
type pxnAttr_t uint64

const (
	tSecure    nsAttr_t = 0
	tNonSecure nsAttr_t = 0x8000000000000000
)

const (
	tApNone    apAttr_t = 0
	tApNoEL0   apAttr_t = 0x2000000000000000
	tApRO      apAttr_t = 0x4000000000000000
	tApRONoEL0 apAttr_t = 0x6000000000000000
)

const (
	tNonUXN uxnAttr_t = 0
	tUXN    uxnAttr_t = 0x1000000000000000
)

const (
	tNonPXN pxnAttr_t = 0
	tPXN    pxnAttr_t = 0x0800000000000000
)

// Block/page descriptor upper attributes.
type bpUxnAttr_t uint64
type bpPxnAttr_t uint64
type bpCtgAttr_t uint64

const (
	bpNonUXN bpUxnAttr_t = 0
	bpUXN    bpUxnAttr_t = 0x0040000000000000
)

const (
	bpNonPXN bpPxnAttr_t = 0
	bpPXN    bpPxnAttr_t = 0x0020000000000000
)

const (
	bpNonContiguous bpCtgAttr_t = 0
	bpContiguous    bpCtgAttr_t = 0x0010000000000000
)

// Block/page descriptor lower attributes.
type bpNgAttr_t uint64
type bpAfAttr_t uint64
type bpShAttr_t uint64
type bpApAttr_t uint64
type bpNsAttr_t uint64
type bpMaAttr_t uint64

const (
	bpGlobal    bpNgAttr_t = 0
	bpNonGlobal bpNgAttr_t = 0x800
)

const (
	bpNoAF bpAfAttr_t = 0
	bpAF   bpAfAttr_t = 0x400
)

const (
	bpNSH bpShAttr_t = 0
	bpOSH bpShAttr_t = 0x200
	bpISH bpShAttr_t = 0x300
)

const (
	bpApRwNoEL0 bpApAttr_t = 0
	bpApRw      bpApAttr_t = 0x40
	bpApRoNoEL0 bpApAttr_t = 0x80
	bpApRo      bpApAttr_t = 0xc0
)

const (
	bpSecure    bpNsAttr_t = 0
	bpNonSecure bpNsAttr_t = 0x20
)

// MaIndex_t selects one of the 8 MAIR-programmed memory types.
type MaIndex_t bpMaAttr_t

const (
	MaDeviceNGnRnE MaIndex_t = 0
	MaDeviceNGnRE  MaIndex_t = 0x4
	MaNormalNC     MaIndex_t = 0x8
	MaNormalINC    MaIndex_t = 0xc
	MaNormalWBWARA MaIndex_t = 0x10
	MaNormalWTWARA MaIndex_t = 0x14
	MaNormalWTWNRA MaIndex_t = 0x18
	MaNormalWTWNRN MaIndex_t = 0x1c
)

// ma_t: the 8-bit MAIR encoding for each index above.
type ma_t byte

const (
	maDeviceNGnRnE ma_t = 0x00
	maDeviceNGnRE  ma_t = 0x04
	maNormalNC     ma_t = 0x44
	maNormalINC    ma_t = 0xf4
	maNormalWBWARA ma_t = 0xff
	maNormalWTWARA ma_t = 0xbb
	maNormalWTWNRA ma_t = 0xaa
	maNormalWTWNRN ma_t = 0x88
)

// MairValue returns the 64-bit value to program into MAIR_EL1: one
// byte per memory-attribute index, in the fixed order the rest of
// this package assumes (see the MaIndex_t constants above).
func MairValue() uint64 {
	attrs := [8]ma_t{maDeviceNGnRnE, maDeviceNGnRE, maNormalNC, maNormalINC,
		maNormalWBWARA, maNormalWTWARA, maNormalWTWNRA, maNormalWTWNRN}
	var v uint64
	for i, a := range attrs {
		v |= uint64(a) << (8 * i)
	}
	return v
}

type bpUAttr_t struct {
	uxn bpUxnAttr_t
	pxn bpPxnAttr_t
	ctg bpCtgAttr_t
}

type bpLAttr_t struct {
	ng bpNgAttr_t
	af bpAfAttr_t
	sh bpShAttr_t
	ap bpApAttr_t
	ns bpNsAttr_t
	ma bpMaAttr_t
}

func bpUBits(u bpUAttr_t) uint64 { return uint64(u.uxn) | uint64(u.pxn) | uint64(u.ctg) }
func bpLBits(l bpLAttr_t) uint64 {
	return uint64(l.ng) | uint64(l.af) | uint64(l.sh) | uint64(l.ap) | uint64(l.ns) | uint64(l.ma)
}

func bpUExtract(p pte_t) bpUAttr_t {
	return bpUAttr_t{
		uxn: bpUxnAttr_t(p & uint64(bpUXN)),
		pxn: bpPxnAttr_t(p & uint64(bpPXN)),
		ctg: bpCtgAttr_t(p & uint64(bpContiguous)),
	}
}

func bpLExtract(p pte_t) bpLAttr_t {
	return bpLAttr_t{
		ng: bpNgAttr_t(p & uint64(bpNonGlobal)),
		af: bpAfAttr_t(p & uint64(bpAF)),
		sh: bpShAttr_t(p & uint64(bpISH)),
		ap: bpApAttr_t(p & uint64(bpApRo)),
		ns: bpNsAttr_t(p & uint64(bpNonSecure)),
		ma: bpMaAttr_t(p & uint64(MaNormalWTWNRN)),
	}
}

// Prot_t mirrors vm_prot_t: the access rights a mapping allows.
type Prot_t int

const (
	ProtNone    Prot_t = 0
	ProtRead    Prot_t = 1
	ProtWrite   Prot_t = 2
	ProtExecute Prot_t = 4
	ProtAll            = ProtRead | ProtWrite | ProtExecute
	ProtDefault        = ProtRead | ProtWrite
)

// Flags_t mirrors pmap_flags_t.
type Flags_t int

const (
	FlagsNone         Flags_t = 0
	FlagsWired        Flags_t = 1 << 0
	FlagsNoCache      Flags_t = 1 << 1
	FlagsWriteCombine Flags_t = 1 << 2
	FlagsCanFail      Flags_t = 1 << 3
)

const pteSize = 8

// --- synthetic page-table storage ---
//
// Real physical memory backs data pages (internal/vmpage); page table
// nodes live in a private address space handed out by this pool, since
// nothing else in a hosted build needs to address a page table by PA.

var tablePool = struct {
	mu     sync.Mutex
	next   uint64
	tables map[uint64][]pte_t
}{next: 0x1000, tables: map[uint64][]pte_t{}}

func allocTable(ptesPerTable int) uint64 {
	tablePool.mu.Lock()
	defer tablePool.mu.Unlock()
	// Align each table to its own size so ptePA's granule mask keeps
	// the address intact when it is stored in a TDE.
	size := uint64(ptesPerTable) * pteSize
	pa := (tablePool.next + size - 1) &^ (size - 1)
	tablePool.next = pa + size
	tablePool.tables[pa] = make([]pte_t, ptesPerTable)
	return pa
}

func tableAt(pa uint64) []pte_t {
	tablePool.mu.Lock()
	defer tablePool.mu.Unlock()
	return tablePool.tables[pa]
}

func freeTable(pa uint64) {
	tablePool.mu.Lock()
	defer tablePool.mu.Unlock()
	delete(tablePool.tables, pa)
}

func ptesPerTable() int { return int(pageSize >> 3) }

const (
	isPTEValidMask = 0x1
	isPDEValidMask = 0x3
)

func isPTEValid(p pte_t) bool { return p&isPTEValidMask != 0 }
func isPDEValid(p pte_t) bool { return p&isPDEValidMask == isPDEValidMask }

func ptePA(p pte_t) uint64    { return (p & 0xffffffffffff) &^ (pageSize - 1) }
func makeTDE(pa uint64) pte_t { return pte_t(ptePA(pa) | 0x3) }
func makeBDE(pa uint64, u bpUAttr_t, l bpLAttr_t) pte_t {
	return pte_t(ptePA(pa)) | pte_t(bpUBits(u)) | pte_t(bpLBits(l)) | 0x1
}
func makePDE(pa uint64, u bpUAttr_t, l bpLAttr_t) pte_t {
	return pte_t(ptePA(pa)) | pte_t(bpUBits(u)) | pte_t(bpLBits(l)) | 0x3
}

var pageSize uint64 = 4096
var pageShift uint = 12

// Statistics_t mirrors pmap_statistics_t.
type Statistics_t struct {
	WiredCount    int
	ResidentCount int
}

// Pmap_t is one address space's page table root.
type Pmap_t struct {
	lock   lock.Lock_t
	ttb    uint64
	asid   uint8
	refcnt int
	Stats  Statistics_t
}

var kernelPmap Pmap_t

// Kernel returns the well-known kernel address space.
func Kernel() *Pmap_t { return &kernelPmap }

// Asid returns the pmap's TLB tag.
func (p *Pmap_t) Asid() uint8 { return p.asid }

// ASIDs are 8 bits; allocation wraps around the 256-entry space and
// reuses freed tags. ASID 0 is permanently the kernel's.
var asidMap = bitmap.New(256)
var asidHint uint
var asidLock spinlock.Spinlock_t

func allocASID() uint8 {
	asidLock.Acquire()
	defer asidLock.Release()

	if asidHint == 0 || asidHint >= asidMap.Size() {
		asidHint = 1
	}
	bit := asidMap.FindFirstZero(asidHint)
	if bit >= asidMap.Size() {
		bit = asidMap.FindFirstZero(1)
		if bit >= asidMap.Size() {
			klog.Panicf("pmap: out of ASIDs")
		}
	}
	asidMap.Set(bit, 1)
	asidHint = bit + 1
	return uint8(bit)
}

func freeASID(a uint8) {
	asidLock.Acquire()
	asidMap.Clear(uint(a), 1)
	asidLock.Release()
}

// --- per-physical-frame reverse index (pte_page_list) ---

type ptePage_t struct {
	pmap *Pmap_t
	va   uint64
	node list.Node_t
}

type ptePageBucket_t struct {
	lock spinlock.Spinlock_t
	ll   list.List_t
}

var ptePageList []ptePageBucket_t

func ptePageListIdx(pa uintptr) uint64 {
	return uint64(pa-vmpage.MemBase()) >> pageShift
}

// Bootstrap records the configured page size and resets the kernel
// pmap. Real hardware work (programming TTBR/MAIR/SCTLR) is the arch
// exception-level bring-up's job, not this package's, under a hosted
// build.
func Bootstrap(pageSizeIn uint64, pageShiftIn uint) {
	pageSize = pageSizeIn
	pageShift = pageShiftIn

	kernelPmap.ttb = 0
	kernelPmap.asid = 0
	kernelPmap.refcnt = 0
	asidMap.Set(0, 1)
	asidHint = 1
}

// Init allocates the reverse-mapping table, sized for the number of
// physical frames internal/vmpage manages. Must run after vmpage.Init.
func Init() {
	numPages := vmpage.NumPages()
	ptePageList = make([]ptePageBucket_t, numPages)
	for i := range ptePageList {
		ptePageList[i].ll.Init()
	}
	Reference(Kernel())
}

func ptePageInsert(pmap *Pmap_t, pa uintptr, va uint64) {
	entry := &ptePage_t{pmap: pmap, va: va}
	entry.node.Init()

	// Release the pmap lock before taking the reverse-index bucket
	// lock, avoiding the pmap -> reverse -> pmap deadlock page_protect
	// would otherwise risk.
	pmap.lock.ReleaseExclusive()

	bkt := &ptePageList[ptePageListIdx(pa)]
	bkt.lock.AcquireIrq()
	bkt.ll.InsertLast(&entry.node, entry)
	bkt.lock.ReleaseIrq()

	pmap.lock.AcquireExclusive()
}

func ptePageRemove(pmap *Pmap_t, pa uintptr) {
	pmap.lock.ReleaseExclusive()

	bkt := &ptePageList[ptePageListIdx(pa)]
	bkt.lock.AcquireIrq()

	var found *list.Node_t
	bkt.ll.ForEach(func(n *list.Node_t) bool {
		if n.Elem().(*ptePage_t).pmap == pmap {
			found = n
			return false
		}
		return true
	})
	if found != nil {
		bkt.ll.Remove(found)
	}

	bkt.lock.ReleaseIrq()

	pmap.lock.AcquireExclusive()
}

// --- table walk ---

func tableIdx(va uint64, lsb uint, mask uint64) uint64 {
	return (va & 0xFFFFFFFFFFFF >> lsb) & mask
}

func walkParams() (level int, width uint, mask uint64) {
	if pageSize == 0x10000 {
		level = 1
	}
	width = uint(pageShift - 3)
	mask = (uint64(1) << width) - 1
	return
}

func _enter(pmap *Pmap_t, va uint64, pa uint64, bpu bpUAttr_t, bpl bpLAttr_t) {
	level, width, mask := walkParams()
	lsb := pageShift + uint(3-level)*width
	idx := tableIdx(va, lsb, mask)

	if pmap.ttb == 0 {
		pmap.ttb = allocTable(ptesPerTable())
	}

	table := tableAt(pmap.ttb)

	if level == 0 {
		if !isPDEValid(table[idx]) {
			newPA := allocTable(ptesPerTable())
			table[idx] = makeTDE(newPA)
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	for l := 0; l < 2; l++ {
		if !isPDEValid(table[idx]) {
			newPA := allocTable(ptesPerTable())
			table[idx] = makeTDE(newPA)
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	updatePTE(&table[idx], makePDE(pa, bpu, bpl))
}

func updatePTE(old *pte_t, newPTE pte_t) {
	// Break-before-make: an already-valid PTE must be invalidated and
	// its TLB entry flushed before the new value is written, since the
	// output address, memory type, or block size may be changing.
	if !isPTEValid(*old) {
		*old = newPTE
		return
	}
	*old = 0
	// arch_barrier_dsb + arch_tlb_invalidate_va happen here on real
	// hardware; nothing to flush under a hosted build.
	*old = newPTE
}

func clearPTE(old *pte_t) {
	*old = 0
}

func isTableEmpty(table []pte_t) bool {
	for _, p := range table {
		if isPTEValid(p) {
			return false
		}
	}
	return true
}

func _remove(pmap *Pmap_t, va uint64) bool {
	if pmap.ttb == 0 {
		return false
	}

	level, width, mask := walkParams()
	startLevel := level
	lsb := pageShift + uint(3-level)*width
	idx := tableIdx(va, lsb, mask)

	var tables [4][]pte_t
	var idxs [4]uint64
	tables[level] = tableAt(pmap.ttb)

	if level == 0 {
		if !isPDEValid(tables[level][idx]) {
			return false
		}
		idxs[level] = idx
		tables[level+1] = tableAt(ptePA(uint64(tables[level][idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	for l := 0; l < 2; l++ {
		if !isPDEValid(tables[level][idx]) {
			return false
		}
		idxs[level] = idx
		tables[level+1] = tableAt(ptePA(uint64(tables[level][idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	if !isPDEValid(tables[level][idx]) {
		return false
	}
	idxs[level] = idx
	clearPTE(&tables[level][idx])

	for l := 3; l >= startLevel; l-- {
		if !isTableEmpty(tables[l]) {
			continue
		}
		if l == startLevel {
			freeTable(pmap.ttb)
			pmap.ttb = 0
		} else {
			childPA := ptePA(uint64(tables[l-1][idxs[l-1]]))
			tables[l-1][idxs[l-1]] = 0
			freeTable(childPA)
		}
	}

	return true
}

func _lookup(pmap *Pmap_t, va uint64) (pa uint64, bpu bpUAttr_t, bpl bpLAttr_t, ok bool) {
	if pmap.ttb == 0 {
		return 0, bpUAttr_t{}, bpLAttr_t{}, false
	}

	level, width, mask := walkParams()
	lsb := pageShift + uint(3-level)*width
	idx := tableIdx(va, lsb, mask)
	table := tableAt(pmap.ttb)

	if level == 0 {
		if !isPDEValid(table[idx]) {
			return 0, bpUAttr_t{}, bpLAttr_t{}, false
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	for l := 0; l < 2; l++ {
		if !isPDEValid(table[idx]) {
			return 0, bpUAttr_t{}, bpLAttr_t{}, false
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	p := table[idx]
	if !isPDEValid(p) {
		return 0, bpUAttr_t{}, bpLAttr_t{}, false
	}

	pa = ptePA(uint64(p)) | (va & (pageSize - 1))
	return pa, bpUExtract(p), bpLExtract(p), true
}

func _protect(pmap *Pmap_t, va uint64, bpu bpUAttr_t, bpl bpLAttr_t) bool {
	if pmap.ttb == 0 {
		return false
	}

	level, width, mask := walkParams()
	lsb := pageShift + uint(3-level)*width
	idx := tableIdx(va, lsb, mask)
	table := tableAt(pmap.ttb)

	if level == 0 {
		if !isPDEValid(table[idx]) {
			return false
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	for l := 0; l < 2; l++ {
		if !isPDEValid(table[idx]) {
			return false
		}
		table = tableAt(ptePA(uint64(table[idx])))
		level++
		lsb -= width
		idx = tableIdx(va, lsb, mask)
	}

	p := table[idx]
	if !isPDEValid(p) {
		return false
	}

	pa := ptePA(uint64(p))
	newL := bpLExtract(p)
	newU := bpUExtract(p)
	newL.ap = bpl.ap
	newL.af = bpl.af
	newU.uxn = bpu.uxn
	newU.pxn = bpu.pxn

	updatePTE(&table[idx], makePDE(pa, newU, newL))
	return true
}

func roundDown(x, align uint64) uint64 { return x &^ (align - 1) }
func roundUp(x, align uint64) uint64   { return roundDown(x+align-1, align) }

func kernelAttrs(prot Prot_t, flags Flags_t) (bpUAttr_t, bpLAttr_t) {
	pxn := bpPXN
	if prot&ProtExecute != 0 {
		pxn = bpNonPXN
	}
	af := bpNoAF
	if prot&ProtAll != 0 {
		af = bpAF
	}
	sh := bpISH
	if flags&FlagsNoCache != 0 {
		sh = bpOSH
	}
	ap := bpApRoNoEL0
	if prot&ProtWrite != 0 {
		ap = bpApRwNoEL0
	}
	ma := bpMaAttr_t(MaNormalWBWARA)
	if flags&FlagsNoCache != 0 {
		ma = bpMaAttr_t(MaDeviceNGnRnE)
	} else if flags&FlagsWriteCombine != 0 {
		ma = bpMaAttr_t(MaNormalNC)
	}

	return bpUAttr_t{uxn: bpUXN, pxn: pxn, ctg: bpNonContiguous},
		bpLAttr_t{ng: bpGlobal, af: af, sh: sh, ap: ap, ns: bpNonSecure, ma: ma}
}

func userAttrs(prot Prot_t, flags Flags_t) (bpUAttr_t, bpLAttr_t) {
	uxn := bpUXN
	if prot&ProtExecute != 0 {
		uxn = bpNonUXN
	}
	af := bpNoAF
	if prot&ProtAll != 0 {
		af = bpAF
	}
	sh := bpISH
	if flags&FlagsNoCache != 0 {
		sh = bpOSH
	}
	ap := bpApRo
	if prot&ProtWrite != 0 {
		ap = bpApRw
	}
	ma := bpMaAttr_t(MaNormalWBWARA)
	if flags&FlagsNoCache != 0 {
		ma = bpMaAttr_t(MaDeviceNGnRnE)
	} else if flags&FlagsWriteCombine != 0 {
		ma = bpMaAttr_t(MaNormalNC)
	}

	return bpUAttr_t{uxn: uxn, pxn: bpPXN, ctg: bpNonContiguous},
		bpLAttr_t{ng: bpNonGlobal, af: af, sh: sh, ap: ap, ns: bpNonSecure, ma: ma}
}

// Create allocates a fresh, empty address space with its own ASID.
func Create() *Pmap_t {
	p := &Pmap_t{}
	p.asid = allocASID()
	Reference(p)
	return p
}

// Destroy drops a reference, freeing the pmap once it reaches zero.
// Callers must have already removed every mapping.
func Destroy(p *Pmap_t) {
	if p == Kernel() {
		klog.Panicf("pmap: destroy of kernel pmap")
	}

	p.lock.AcquireExclusive()
	p.refcnt--
	dead := p.refcnt == 0
	p.lock.ReleaseExclusive()

	if dead {
		if p.ttb != 0 {
			freeTable(p.ttb)
			p.ttb = 0
		}
		freeASID(p.asid)
	}
}

// Reference increments a pmap's refcount.
func Reference(p *Pmap_t) {
	p.lock.AcquireExclusive()
	p.refcnt++
	p.lock.ReleaseExclusive()
}

// Enter maps one page at va to the physical frame pa.
func Enter(p *Pmap_t, va uint64, pa uintptr, prot Prot_t, flags Flags_t) {
	var bpu bpUAttr_t
	var bpl bpLAttr_t
	if p == Kernel() {
		bpu, bpl = kernelAttrs(prot, flags)
	} else {
		bpu, bpl = userAttrs(prot, flags)
	}

	p.lock.AcquireExclusive()
	_enter(p, va, uint64(pa), bpu, bpl)
	ptePageInsert(p, pa, va)

	if flags&FlagsWired != 0 {
		p.Stats.WiredCount++
	}
	p.Stats.ResidentCount++
	p.lock.ReleaseExclusive()
}

// Remove unmaps every page in [sva, eva).
func Remove(p *Pmap_t, sva, eva uint64) {
	sva = roundDown(sva, pageSize)
	eva = roundUp(eva, pageSize)

	p.lock.AcquireExclusive()
	for va := sva; va < eva; va += pageSize {
		if pa, _, _, ok := _lookup(p, va); ok {
			_remove(p, va)
			ptePageRemove(p, uintptr(pa))
		}
	}
	p.lock.ReleaseExclusive()
}

// Protect updates access protections over [sva, eva).
func Protect(p *Pmap_t, sva, eva uint64, prot Prot_t) {
	var bpu bpUAttr_t
	var bpl bpLAttr_t
	if p == Kernel() {
		bpu, bpl = kernelAttrs(prot, FlagsNone)
	} else {
		bpu, bpl = userAttrs(prot, FlagsNone)
	}

	sva = roundDown(sva, pageSize)
	eva = roundUp(eva, pageSize)

	p.lock.AcquireExclusive()
	for va := sva; va < eva; va += pageSize {
		_protect(p, va, bpu, bpl)
	}
	p.lock.ReleaseExclusive()
}

// Unwire decrements the wired-page stat and the frame's own wire
// count for the page mapped at va.
func Unwire(p *Pmap_t, va uint64) {
	pa, _, _, ok := _lookup(p, va)
	if !ok {
		klog.Panicf("pmap: unwire of unmapped va")
	}

	page := vmpage.FromPA(uintptr(pa))
	vmpage.Unwire(page)

	p.lock.AcquireExclusive()
	p.Stats.WiredCount--
	p.lock.ReleaseExclusive()
}

// Extract translates va to its physical address, if mapped.
func Extract(p *Pmap_t, va uint64) (uintptr, bool) {
	p.lock.AcquireShared()
	pa, _, _, ok := _lookup(p, va)
	p.lock.ReleaseShared()
	return uintptr(pa), ok
}

// KenterPA maps one page in the kernel pmap directly by physical
// address (used for device/MMIO mappings with no backing vm_page).
func KenterPA(va uint64, pa uintptr, prot Prot_t, flags Flags_t) {
	bpu, bpl := kernelAttrs(prot, flags)

	Kernel().lock.AcquireExclusive()
	_enter(Kernel(), va, uint64(pa), bpu, bpl)
	Kernel().Stats.WiredCount++
	Kernel().Stats.ResidentCount++
	Kernel().lock.ReleaseExclusive()
}

// KremovePA unmaps a kernel-direct region.
func KremovePA(va uint64, size uint64) {
	Kernel().lock.AcquireExclusive()
	for s := uint64(0); s < size; s += pageSize {
		_remove(Kernel(), va+s)
	}
	Kernel().lock.ReleaseExclusive()
}

// PageProtect restricts every mapping of the physical frame at pa to
// at most prot, walking the reverse index so it need not know which
// address spaces map the page.
func PageProtect(pa uintptr, prot Prot_t) {
	if prot == ProtAll {
		return
	}

	bkt := &ptePageList[ptePageListIdx(pa)]
	bkt.lock.AcquireIrq()

	var entries []*ptePage_t
	bkt.ll.ForEach(func(n *list.Node_t) bool {
		entries = append(entries, n.Elem().(*ptePage_t))
		return true
	})

	bkt.lock.ReleaseIrq()

	for _, e := range entries {
		Protect(e.pmap, e.va, e.va+pageSize, prot)
	}
}

// ClearModify reads and clears a page's dirty bit.
func ClearModify(page *vmpage.Page_t) bool {
	dirty := page.Status.IsDirty
	page.Status.IsDirty = false
	return dirty
}

// ClearReference reads and clears a page's referenced bit.
func ClearReference(page *vmpage.Page_t) bool {
	ref := page.Status.IsReferenced
	page.Status.IsReferenced = false
	return ref
}
