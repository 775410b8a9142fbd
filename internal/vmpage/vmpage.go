// Package vmpage implements the physical page frame allocator: a
// buddy allocator over a flat page array for contiguous power-of-two
// allocations, and a global (object, offset) hash table so any
// resident page can be found again without walking an object's
// resident list.
//
// The physical memory the pages describe is backed by an anonymous
// mmap arena (golang.org/x/sys/unix) rather than a linker-
// supplied physical range, since this is a hosted build with no real
// physical address space of its own.
package vmpage

import (
	"math/bits"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/list"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
)

const NumBins = 20
const MaxNumContiguousPages = 1 << (NumBins - 1)

// Status_t tracks per-page bookkeeping bits.
type Status_t struct {
	IsActive     bool
	IsDirty      bool
	IsReferenced bool
	WiredCount   int
}

// Page_t describes one physical page frame.
type Page_t struct {
	Status Status_t
	object *vmobject.Object_t
	offset uint64
	rnode  list.Node_t // hook in object's resident list
	onode  list.Node_t // hook in the global hash table
}

// Object returns the object this page currently belongs to, or nil.
func (p *Page_t) Object() *vmobject.Object_t { return p.object }

// Offset returns the page's offset within its object.
func (p *Page_t) Offset() uint64 { return p.offset }

type pageArray_t struct {
	lock       [NumBins]spinlock.Spinlock_t
	pages      []Page_t
	llPageBins [NumBins]list.List_t
	numPages   uint64
	arena      []byte
	memBase    uintptr
	pageSize   uint64
	pageShift  uint
}

var array pageArray_t

type hashBucket_t struct {
	lock spinlock.Spinlock_t
	ll   list.List_t
}

var hashTable []hashBucket_t

func hashKey(object *vmobject.Object_t, offset uint64) uint64 {
	h := uint64(14695981039346656037)
	h ^= uint64(uintptr(unsafe.Pointer(object)))
	h *= 1099511628211
	h ^= offset
	h *= 1099511628211
	return h % uint64(len(hashTable))
}

func pageIndex(p *Page_t) uint64 {
	return uint64(indexOf(p))
}

// indexOf recovers a page's slot in array.pages via pointer
// arithmetic, mirroring GET_PAGE_INDEX's `page - vm_page_array.pages`.
func indexOf(p *Page_t) int {
	base := uintptr(unsafe.Pointer(&array.pages[0]))
	off := uintptr(unsafe.Pointer(p)) - base
	return int(off / unsafe.Sizeof(Page_t{}))
}

func uintptrOfSlice(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func roundDownPow2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return 1 << (bits.Len64(n) - 1)
}

func roundUpPow2(n uint64) uint64 {
	if n != 0 && n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len64(n)
}

func binIndex(numPages uint64) int {
	return bits.TrailingZeros64(numPages)
}

func whichBuddy(index uint64, bin int) uint64 {
	return index &^ ((uint64(1) << uint(bin)) - 1)
}

// Init mmaps an arena of memSize bytes (rounded up to whole pages)
// and builds the page array and hash table over it. PageSize must be
// a power of two matching the pmap package's configured granule.
func Init(memSize uint64, pageSize uint64) {
	pageShift := uint(bits.TrailingZeros64(pageSize))
	numPages := (memSize + pageSize - 1) / pageSize
	arenaSize := numPages * pageSize

	arena, err := unix.Mmap(-1, 0, int(arenaSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		klog.Panicf("vmpage: mmap arena: %v", err)
	}

	array = pageArray_t{
		pages:     make([]Page_t, numPages),
		numPages:  numPages,
		arena:     arena,
		memBase:   uintptrOfSlice(arena),
		pageSize:  pageSize,
		pageShift: pageShift,
	}

	for i := range array.llPageBins {
		array.llPageBins[i].Init()
	}

	groupSize := uint64(0)
	for i := uint64(0); i < numPages; i += groupSize {
		groupSize = roundDownPow2(numPages - i)
		if groupSize > MaxNumContiguousPages {
			groupSize = MaxNumContiguousPages
		}
		bin := binIndex(groupSize)
		array.llPageBins[bin].InsertLast(&array.pages[i].rnode, &array.pages[i])
	}

	numBuckets := numPages + numPages/2
	hashTable = make([]hashBucket_t, numBuckets)
	for i := range hashTable {
		hashTable[i].ll.Init()
	}
}

// MemBase returns the arena's base address, the pmap package's
// MEMBASEADDR equivalent.
func MemBase() uintptr { return array.memBase }

// NumPages returns the total number of page frames managed.
func NumPages() uint64 { return array.numPages }

func binPop(numPages uint64) *Page_t {
	bin := binIndex(numPages)
	if bin >= NumBins {
		return nil
	}

	array.lock[bin].Acquire()

	if array.llPageBins[bin].Empty() {
		array.lock[bin].Release()

		pages := binPop(numPages << 1)
		if pages == nil {
			return nil
		}

		buddyIdx := pageIndex(pages) ^ numPages
		buddy := &array.pages[buddyIdx]

		array.lock[bin].Acquire()
		array.llPageBins[bin].InsertFirst(&buddy.rnode, buddy)
		array.lock[bin].Release()

		return pages
	}

	node := array.llPageBins[bin].First()
	pages := node.Elem().(*Page_t)
	array.llPageBins[bin].Remove(node)

	array.lock[bin].Release()
	return pages
}

func binPush(pages *Page_t, numPages uint64) {
	bin := binIndex(numPages)
	if bin >= NumBins {
		return
	}

	array.lock[bin].Acquire()

	// Keep the bin ordered ascending by page index so a freed block's
	// list neighbors are always its physically adjacent candidates.
	var before *list.Node_t
	array.llPageBins[bin].ForEach(func(n *list.Node_t) bool {
		if pageIndex(n.Elem().(*Page_t)) > pageIndex(pages) {
			before = n
			return false
		}
		return true
	})
	array.llPageBins[bin].InsertBefore(before, &pages.rnode, pages)

	var next, prev *Page_t
	if n := pages.rnode.Next(); n != nil {
		next = n.Elem().(*Page_t)
	}
	if p := pages.rnode.Prev(); p != nil {
		prev = p.Elem().(*Page_t)
	}

	buddyIdx := pageIndex(pages) ^ numPages
	merge := false

	if next != nil && buddyIdx == pageIndex(next) {
		array.llPageBins[bin].Remove(&next.rnode)
		array.llPageBins[bin].Remove(&pages.rnode)
		merge = true
	} else if prev != nil && buddyIdx == pageIndex(prev) {
		array.llPageBins[bin].Remove(&prev.rnode)
		array.llPageBins[bin].Remove(&pages.rnode)
		merge = true
		pages = prev
	}

	array.lock[bin].Release()

	if merge {
		binPush(pages, numPages<<1)
	}
}

func insertPages(pages []Page_t, object *vmobject.Object_t, startOffset uint64) {
	for i := range pages {
		offset := startOffset + uint64(i)*array.pageSize
		if offset >= object.Size {
			object.SetSize(offset + array.pageSize)
		}

		pages[i].object = object
		pages[i].offset = offset

		object.Resident().InsertLast(&pages[i].rnode, &pages[i])

		bkt := &hashTable[hashKey(object, offset)]
		bkt.lock.AcquireIrq()
		bkt.ll.InsertLast(&pages[i].onode, &pages[i])
		bkt.lock.ReleaseIrq()
	}
}

func removePages(pages []Page_t) {
	for i := range pages {
		object := pages[i].object
		offset := pages[i].offset

		bkt := &hashTable[hashKey(object, offset)]
		bkt.lock.AcquireIrq()
		bkt.ll.Remove(&pages[i].onode)
		bkt.lock.ReleaseIrq()

		object.Resident().Remove(&pages[i].rnode)

		pages[i].object = nil
		pages[i].offset = 0
	}
}

// Lookup finds the resident page backing (object, offset), or nil.
func Lookup(object *vmobject.Object_t, offset uint64) *Page_t {
	offset -= offset % array.pageSize
	bkt := &hashTable[hashKey(object, offset)]

	bkt.lock.AcquireRead()
	defer bkt.lock.ReleaseRead()

	var found *Page_t
	bkt.ll.ForEach(func(n *list.Node_t) bool {
		p := n.Elem().(*Page_t)
		if p.object == object && p.offset == offset {
			found = p
			return false
		}
		return true
	})
	return found
}

// AllocContiguous allocates numPages (rounded up to a power of two)
// contiguous page frames, optionally indexing them into object
// starting at offset.
func AllocContiguous(numPages uint64, object *vmobject.Object_t, offset uint64) []Page_t {
	if numPages > array.numPages || numPages > MaxNumContiguousPages {
		klog.Panicf("vmpage: alloc_contiguous too large")
	}

	numPages = roundUpPow2(numPages)
	first := binPop(numPages)
	if first == nil {
		return nil
	}

	idx := indexOf(first)
	pages := array.pages[idx : idx+int(numPages)]

	for i := range pages {
		pages[i].Status.IsActive = true
	}

	if object != nil {
		insertPages(pages, object, offset)
	}

	return pages
}

// FreeContiguous returns a contiguous block previously returned by
// AllocContiguous.
func FreeContiguous(pages []Page_t) {
	numPages := roundUpPow2(uint64(len(pages)))

	if object := pages[0].object; object != nil {
		removePages(pages)
	}

	binPush(&pages[0], numPages)

	for i := range pages {
		pages[i].Status.IsActive = false
	}
}

// Alloc allocates a single page frame.
func Alloc(object *vmobject.Object_t, offset uint64) *Page_t {
	pages := AllocContiguous(1, object, offset)
	if pages == nil {
		return nil
	}
	return &pages[0]
}

// Free releases a single page frame.
func Free(p *Page_t) {
	idx := indexOf(p)
	FreeContiguous(array.pages[idx : idx+1])
}

// Wire increments a page's wire count, keeping it resident under
// memory pressure.
func Wire(p *Page_t) {
	if p.object != nil {
		p.object.Lock()
	}
	p.Status.WiredCount++
	if p.object != nil {
		p.object.Unlock()
	}
}

// Unwire decrements a page's wire count.
func Unwire(p *Page_t) {
	if p.object != nil {
		p.object.Lock()
	}
	p.Status.WiredCount--
	if p.object != nil {
		p.object.Unlock()
	}
}

// ToPA returns the physical address of a page frame.
func ToPA(p *Page_t) uintptr {
	return array.memBase + uintptr(indexOf(p))*uintptr(array.pageSize)
}

// Data returns the page's backing storage in the mmap arena. Used in
// place of a zero/copy through the direct map, since a hosted build
// has no direct-mapped VA window onto physical memory to
// dereference.
func Data(p *Page_t) []byte {
	pa := ToPA(p)
	off := pa - array.memBase
	return array.arena[off : off+uintptr(array.pageSize)]
}

// Zero fills a page's backing storage with zeroes.
func Zero(p *Page_t) {
	b := Data(p)
	for i := range b {
		b[i] = 0
	}
}

// FromPA returns the page frame backing a physical address.
func FromPA(pa uintptr) *Page_t {
	idx := (pa - array.memBase) >> array.pageShift
	return &array.pages[idx]
}

// ReservePA pulls a specific, not-yet-allocated physical page out of
// the buddy allocator (used during bootstrap to reserve pages the
// kernel image already occupies).
func ReservePA(pa uintptr) *Page_t {
	page := FromPA(pa)
	idx := uint64(indexOf(page))

	for bin := 0; bin < NumBins; bin++ {
		buddyIdx := whichBuddy(idx, bin)
		var buddy *Page_t
		array.llPageBins[bin].ForEach(func(n *list.Node_t) bool {
			cand := n.Elem().(*Page_t)
			if uint64(indexOf(cand)) == buddyIdx {
				buddy = cand
				return false
			}
			return true
		})

		if buddy == nil {
			continue
		}

		page.Status.IsActive = true
		page.Status.WiredCount++
		array.llPageBins[bin].Remove(&buddy.rnode)

		for i := bin; i > 0; i-- {
			numPages := uint64(1) << uint(i-1)
			b1 := &array.pages[whichBuddy(idx, i)]
			b2 := &array.pages[whichBuddy(idx, i-1)]
			if b1 == b2 {
				FreeContiguous(array.pages[indexOf(b1)+int(numPages) : indexOf(b1)+2*int(numPages)])
			} else {
				FreeContiguous(array.pages[indexOf(b1) : indexOf(b1)+int(numPages)])
			}
		}

		return page
	}

	return nil
}
