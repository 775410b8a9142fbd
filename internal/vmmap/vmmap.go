// Package vmmap implements the per-address-space mapping tree: a
// vm_map owns an ordered list of non-overlapping Mapping records, a
// red-black tree of the same records keyed by vstart (point lookup,
// overlap test), and a second red-black tree keyed by the free-VA
// hole trailing each mapping (first-fit allocation).
//
// Three synchronized structures cover the same mapping records:
// enter merges into an adjacent compatible predecessor in place,
// anonymous enter first-fits over the hole tree, and
// remove/protect/wire walk from the predecessor-or-
// successor-fallback boundary-splitting walk.
package vmmap

import (
	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/list"
	"github.com/0ctobyte/popcorn-sub000/internal/lock"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/rbtree"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
)

// PageSize is the granule vm_map rounds and aligns against. Set once
// during bootstrap (internal/arch detects the granule; cmd/kernel
// sets this before any mapping operation runs).
var PageSize uint64 = 4096

// Mapping_t is a contiguous run of virtual addresses inside one Map_t
// sharing a backing object, offset, protection, and wired state.
type Mapping_t struct {
	Vstart   uint64
	Vend     uint64
	Prot     pmap.Prot_t
	Object   *vmobject.Object_t
	Offset   uint64
	Wired    bool
	holeSize uint64
	// holeLinked tracks hnode's tree membership explicitly: a lone
	// root node has nil parent/left/right, which rbtree.Node_t.Linked
	// would misreport as unlinked, so this package never relies on it.
	holeLinked bool

	lnode list.Node_t   // sorted-by-vstart list hook
	snode rbtree.Node_t // vstart-keyed tree hook
	hnode rbtree.Node_t // hole-size-keyed tree hook
}

// Map_t is one address space's mapping tree plus the pmap that
// realizes it in hardware (or, on a hosted build, in the synthetic
// table pool internal/pmap maintains).
type Map_t struct {
	rw         lock.Lock_t
	Pmap       *pmap.Pmap_t
	llMappings list.List_t
	rbMappings rbtree.Tree_t
	rbHoles    rbtree.Tree_t
	Start      uint64
	End        uint64
	Size       uint64
	refcnt     int
}

var kernelMap Map_t

// KernelMap returns the well-known singleton covering the kernel's
// half of the address space.
func KernelMap() *Map_t { return &kernelMap }

// InitKernelMap sets up the kernel_map singleton over [start, end).
// Must run once during vm_init, after pmap.Init.
func InitKernelMap(start, end uint64) {
	kernelMap.Pmap = pmap.Kernel()
	kernelMap.llMappings.Init()
	kernelMap.rbMappings.Init()
	kernelMap.rbHoles.Init()
	kernelMap.Start = start
	kernelMap.End = end
	kernelMap.refcnt = 1
}

// Create allocates a fresh, empty map over [vmin, vmax) backed by p.
func Create(p *pmap.Pmap_t, vmin, vmax uint64) *Map_t {
	m := &Map_t{Pmap: p, Start: vmin, End: vmax, refcnt: 1}
	m.llMappings.Init()
	m.rbMappings.Init()
	m.rbHoles.Init()
	return m
}

// Reference increments a map's refcount.
func Reference(m *Map_t) {
	m.rw.AcquireExclusive()
	m.refcnt++
	m.rw.ReleaseExclusive()
}

// Destroy drops a reference, tearing down every mapping and the
// backing pmap once the count reaches zero.
func Destroy(m *Map_t) {
	m.rw.AcquireExclusive()
	m.refcnt--
	if m.refcnt > 0 {
		m.rw.ReleaseExclusive()
		return
	}

	for n := m.llMappings.First(); n != nil; {
		next := n.Next()
		deleteMapping(m, n.Elem().(*Mapping_t))
		n = next
	}

	m.rw.ReleaseExclusive()

	if m.Pmap != pmap.Kernel() {
		pmap.Destroy(m.Pmap)
	}
}

// --- comparators ---

func mapping(n *rbtree.Node_t) *Mapping_t { return n.Elem().(*Mapping_t) }

func compareVstart(a, b *rbtree.Node_t) rbtree.CompareResult_t {
	ma, mb := mapping(a), mapping(b)
	switch {
	case ma.Vstart > mb.Vstart:
		return rbtree.GT
	case ma.Vstart < mb.Vstart:
		return rbtree.LT
	default:
		return rbtree.EQ
	}
}

func compareOverlap(a, b *rbtree.Node_t) rbtree.CompareResult_t {
	ma, mb := mapping(a), mapping(b)
	switch {
	case ma.Vstart >= mb.Vend:
		return rbtree.GT
	case ma.Vend <= mb.Vstart:
		return rbtree.LT
	default:
		return rbtree.EQ
	}
}

// compareHole orders the hole tree by holeSize ascending; equal sizes
// always sort LT of an existing equal entry (never EQ), so
// arbitrarily many same-sized holes coexist in the tree.
func compareHole(a, b *rbtree.Node_t) rbtree.CompareResult_t {
	ma, mb := mapping(a), mapping(b)
	if ma.holeSize > mb.holeSize {
		return rbtree.GT
	}
	return rbtree.LT
}

// compareFindHole locates the smallest hole able to fit a requested
// size via SearchSuccessor. The requested size is compared against
// each candidate's holeSize.
func compareFindHole(a, b *rbtree.Node_t) rbtree.CompareResult_t {
	want := mapping(a).holeSize
	have := mapping(b).holeSize
	if want > have {
		return rbtree.GT
	}
	return rbtree.LT
}

func searchKey(m *Mapping_t) *rbtree.Node_t { return rbtree.NewSearchKey(m) }

// --- hole bookkeeping ---

func holeUpdate(m *Map_t, mp *Mapping_t, newHoleSize uint64) {
	if mp.holeLinked {
		m.rbHoles.Remove(&mp.hnode)
		mp.holeLinked = false
	}
	mp.holeSize = newHoleSize
	if newHoleSize > 0 {
		m.rbHoles.Insert(compareHole, &mp.hnode, mp)
		mp.holeLinked = true
	}
}

// holeInsert recomputes predecessor's trailing hole (now ending at
// newMapping.Vstart) and inserts newMapping's own trailing hole
// (computed from its list successor, or the map end).
func holeInsert(m *Map_t, predecessor, newMapping *Mapping_t) {
	if predecessor != nil {
		holeUpdate(m, predecessor, newMapping.Vstart-predecessor.Vend)
	}

	end := m.End
	if succ := newMapping.lnode.Next(); succ != nil {
		end = succ.Elem().(*Mapping_t).Vstart
	}

	newMapping.holeSize = 0
	if end > newMapping.Vend {
		size := end - newMapping.Vend
		newMapping.holeSize = size
		if size > 0 {
			m.rbHoles.Insert(compareHole, &newMapping.hnode, newMapping)
			newMapping.holeLinked = true
		}
	}
}

func holeDelete(m *Map_t, predecessor, mp *Mapping_t) {
	if predecessor != nil {
		holeUpdate(m, predecessor, predecessor.holeSize+(mp.Vend-mp.Vstart)+mp.holeSize)
	}
	if mp.holeLinked {
		m.rbHoles.Remove(&mp.hnode)
		mp.holeLinked = false
	}
}

// --- mapping list/tree splice ---

func insertMapping(m *Map_t, slot rbtree.Slot_t, useSlot bool, predecessor, mp *Mapping_t) {
	mp.lnode.Init()
	mp.snode.Init()
	mp.hnode.Init()

	if useSlot {
		if ok := m.rbMappings.InsertSlot(slot, &mp.snode, mp); !ok {
			m.rbMappings.Insert(compareVstart, &mp.snode, mp)
		}
	} else {
		m.rbMappings.Insert(compareVstart, &mp.snode, mp)
	}

	var prevNode *list.Node_t
	if predecessor != nil {
		prevNode = &predecessor.lnode
	}
	m.llMappings.InsertAfter(prevNode, &mp.lnode, mp)
}

func deleteMapping(m *Map_t, mp *Mapping_t) {
	pmap.Remove(m.Pmap, mp.Vstart, mp.Vend)

	if mp.Wired {
		unwireMapping(mp)
	}

	m.rbMappings.Remove(&mp.snode)
	m.llMappings.Remove(&mp.lnode)
	if mp.holeLinked {
		m.rbHoles.Remove(&mp.hnode)
		mp.holeLinked = false
	}
	m.Size -= mp.Vend - mp.Vstart

	if mp.Object != nil {
		mp.Object.Destroy()
	}
}

func unwireMapping(mp *Mapping_t) {
	mp.Wired = false
	for off := uint64(0); off < mp.Vend-mp.Vstart; off += PageSize {
		page := vmpage.Lookup(mp.Object, off+mp.Offset)
		if page == nil {
			klog.Panicf("vmmap: unwire of unmapped offset")
		}
		vmpage.Unwire(page)
	}
}

// enterLocked is _vm_mapping_enter: merge into predecessor in place
// when contiguous and attribute-identical, else splice a new record.
func enterLocked(m *Map_t, predecessor *Mapping_t, tmp Mapping_t, slot rbtree.Slot_t, useSlot bool) {
	size := tmp.Vend - tmp.Vstart

	if predecessor != nil && predecessor.Vend == tmp.Vstart &&
		predecessor.Object == tmp.Object && predecessor.Prot == tmp.Prot && predecessor.Wired == tmp.Wired {
		if predecessor.Object != nil {
			predecessor.Object.SetSize(predecessor.Offset + (predecessor.Vend - predecessor.Vstart) + size)
		}
		m.Size += size
		predecessor.Vend = tmp.Vend
		holeUpdate(m, predecessor, predecessor.holeSize-size)
		return
	}

	mp := &Mapping_t{
		Vstart: tmp.Vstart, Vend: tmp.Vend, Prot: tmp.Prot,
		Object: tmp.Object, Offset: tmp.Offset, Wired: tmp.Wired,
	}
	if mp.Object != nil {
		mp.Object.Reference()
	}

	insertMapping(m, slot, useSlot, predecessor, mp)
	holeInsert(m, predecessor, mp)
	m.Size += size
}

// split implements _vm_mapping_split: divides mp at start into two
// records sharing the object (a fresh reference for the new half).
func split(m *Map_t, mp *Mapping_t, start uint64) *Mapping_t {
	if start <= mp.Vstart || start >= mp.Vend {
		return mp
	}

	newMp := &Mapping_t{
		Vstart: start, Vend: mp.Vend, Prot: mp.Prot,
		Object: mp.Object, Offset: mp.Offset + (start - mp.Vstart), Wired: mp.Wired,
	}
	if newMp.Object != nil {
		newMp.Object.Reference()
	}

	mp.Vend = start

	insertMapping(m, rbtree.Slot_t{}, false, mp, newMp)
	holeInsert(m, mp, newMp)

	return newMp
}

func predecessorOf(m *Map_t, vstart, vend uint64) *Mapping_t {
	key := &Mapping_t{Vstart: vstart, Vend: vend}
	node, exact, _ := m.rbMappings.SearchPredecessor(compareVstart, searchKey(key))
	if node != nil {
		return mapping(node)
	}
	if exact {
		return nil
	}
	return nil
}

func nearestOf(m *Map_t, vstart, vend uint64) *Mapping_t {
	key := &Mapping_t{Vstart: vstart, Vend: vend}
	if node, _, _ := m.rbMappings.SearchPredecessor(compareVstart, searchKey(key)); node != nil {
		return mapping(node)
	}
	if node, _, _ := m.rbMappings.SearchSuccessor(compareVstart, searchKey(key)); node != nil {
		return mapping(node)
	}
	return nil
}

// EnterAt maps exactly [vaddr, vaddr+size) to object at offset with
// prot, failing if the range falls outside the map or overlaps an
// existing mapping.
func EnterAt(m *Map_t, vaddr, size uint64, object *vmobject.Object_t, offset uint64, prot pmap.Prot_t) defs.Err_t {
	tmp := Mapping_t{Vstart: vaddr, Vend: vaddr + size, Prot: prot, Object: object, Offset: offset}

	if tmp.Vstart < m.Start || tmp.Vend > m.End {
		return defs.ENOMEM
	}

	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	if m.rbMappings.Search(compareOverlap, searchKey(&tmp)) != nil {
		return defs.EINVAL
	}

	predNode, _, slot := m.rbMappings.SearchPredecessor(compareVstart, searchKey(&tmp))
	var predecessor *Mapping_t
	if predNode != nil {
		predecessor = mapping(predNode)
	}

	enterLocked(m, predecessor, tmp, slot, true)
	return defs.OK
}

// Enter finds room for size bytes via hole-tree first-fit and maps
// object at offset with prot there, returning the chosen address.
// The gap before the first mapping (which no mapping's trailing hole
// describes) competes with the tree holes on the same smallest-fit
// rule.
func Enter(m *Map_t, size uint64, object *vmobject.Object_t, offset uint64, prot pmap.Prot_t) (uint64, defs.Err_t) {
	key := &Mapping_t{holeSize: size}

	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	var predecessor *Mapping_t
	holeSize := uint64(0)
	if predNode, _, _ := m.rbHoles.SearchSuccessor(compareFindHole, searchKey(key)); predNode != nil {
		predecessor = mapping(predNode)
		holeSize = predecessor.holeSize
	}

	leadingEnd := m.End
	if first := m.llMappings.First(); first != nil {
		leadingEnd = first.Elem().(*Mapping_t).Vstart
	}
	if leading := leadingEnd - m.Start; leading >= size && (predecessor == nil || leading <= holeSize) {
		predecessor = nil
	} else if predecessor == nil {
		return 0, defs.ENOMEM
	}

	vstart := m.Start
	if predecessor != nil {
		vstart = predecessor.Vend
	}

	tmp := Mapping_t{Vstart: vstart, Vend: vstart + size, Prot: prot, Object: object, Offset: offset}
	if tmp.Vstart < m.Start || tmp.Vend > m.End {
		return 0, defs.ENOMEM
	}

	_, slot := m.rbMappings.SearchSlot(compareVstart, searchKey(&tmp))

	enterLocked(m, predecessor, tmp, slot, true)
	return tmp.Vstart, defs.OK
}

func walkRange(m *Map_t, start, end uint64, f func(mp *Mapping_t) (next *Mapping_t)) defs.Err_t {
	if start < m.Start || end > m.End {
		return defs.EINVAL
	}

	nearest := nearestOf(m, start, end)
	if nearest == nil {
		return defs.EINVAL
	}

	mp := nearest
	for mp != nil && mp.Vstart < end {
		next := f(mp)
		mp = next
	}
	return defs.OK
}

func nextMapping(mp *Mapping_t) *Mapping_t {
	n := mp.lnode.Next()
	if n == nil {
		return nil
	}
	return n.Elem().(*Mapping_t)
}

// Remove unmaps [start, end), splitting any mapping that straddles a
// boundary and releasing the VA range back into the hole tree.
func Remove(m *Map_t, start, end uint64) defs.Err_t {
	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	return walkRange(m, start, end, func(mp *Mapping_t) *Mapping_t {
		mp = split(m, mp, start)
		split(m, mp, end)
		next := nextMapping(mp)

		if mp.Vend > start {
			prev := (*Mapping_t)(nil)
			if p := mp.lnode.Prev(); p != nil {
				prev = p.Elem().(*Mapping_t)
			}
			holeDelete(m, prev, mp)
			deleteMapping(m, mp)
		}

		return next
	})
}

// Protect updates access protections over [start, end), splitting at
// boundaries where the new protection differs from the old.
func Protect(m *Map_t, start, end uint64, newProt pmap.Prot_t) defs.Err_t {
	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	return walkRange(m, start, end, func(mp *Mapping_t) *Mapping_t {
		if mp.Prot != newProt {
			mp = split(m, mp, start)
			split(m, mp, end)
		}
		next := nextMapping(mp)

		if mp.Prot != newProt && mp.Vend > start {
			mp.Prot = newProt
			pmap.Protect(m.Pmap, mp.Vstart, mp.Vend, newProt)
		}

		return next
	})
}

// Wire allocates and pins every page backing [start, end), splitting
// at boundaries so only the requested sub-range is affected.
func Wire(m *Map_t, start, end uint64) defs.Err_t {
	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	return walkRange(m, start, end, func(mp *Mapping_t) *Mapping_t {
		if !mp.Wired {
			mp = split(m, mp, start)
			split(m, mp, end)
		}
		next := nextMapping(mp)

		if !mp.Wired {
			mp.Wired = true
			for off := uint64(0); off < mp.Vend-mp.Vstart; off += PageSize {
				offset := off + mp.Offset
				page := vmpage.Lookup(mp.Object, offset)
				if page == nil {
					page = vmpage.Alloc(mp.Object, offset)
					if page == nil {
						klog.Panicf("vmmap: wire out of physical pages")
					}
					pmap.Enter(m.Pmap, off+mp.Vstart, vmpage.ToPA(page), mp.Prot, pmap.FlagsWired)
				}
				vmpage.Wire(page)
			}
		}

		return next
	})
}

// Unwire releases the wire count over [start, end) without freeing
// pages.
func Unwire(m *Map_t, start, end uint64) defs.Err_t {
	m.rw.AcquireExclusive()
	defer m.rw.ReleaseExclusive()

	return walkRange(m, start, end, func(mp *Mapping_t) *Mapping_t {
		next := nextMapping(mp)
		if mp.Wired {
			unwireMapping(mp)
		}
		return next
	})
}

// Lookup answers "which mapping covers this address". Page-fault
// dispatch needs this vstart-tree point query.
func Lookup(m *Map_t, vaddr uint64) (*Mapping_t, bool) {
	m.rw.AcquireShared()
	defer m.rw.ReleaseShared()

	key := &Mapping_t{Vstart: vaddr, Vend: vaddr + 1}
	node := m.rbMappings.Search(compareOverlap, searchKey(key))
	if node == nil {
		return nil, false
	}
	return mapping(node), true
}

// Clone creates a new map over the same address range, backed by a
// fresh pmap, sharing every existing mapping's object (a fresh
// reference per mapping) and re-establishing pmap entries for the
// already-resident pages of wired mappings. Pages of unwired mappings
// are not entered into the new pmap. Used by task creation's
// "inherit" path.
func Clone(src *Map_t, newPmap *pmap.Pmap_t) *Map_t {
	src.rw.AcquireShared()
	defer src.rw.ReleaseShared()

	dst := Create(newPmap, src.Start, src.End)

	src.llMappings.ForEach(func(n *list.Node_t) bool {
		mp := n.Elem().(*Mapping_t)

		tmp := Mapping_t{Vstart: mp.Vstart, Vend: mp.Vend, Prot: mp.Prot, Object: mp.Object, Offset: mp.Offset, Wired: mp.Wired}

		var predecessor *Mapping_t
		if last := dst.llMappings.Last(); last != nil {
			predecessor = last.Elem().(*Mapping_t)
		}
		_, slot := dst.rbMappings.SearchSlot(compareVstart, searchKey(&tmp))
		enterLocked(dst, predecessor, tmp, slot, true)

		if mp.Wired {
			for off := uint64(0); off < mp.Vend-mp.Vstart; off += PageSize {
				page := vmpage.Lookup(mp.Object, off+mp.Offset)
				if page != nil {
					pmap.Enter(newPmap, off+mp.Vstart, vmpage.ToPA(page), mp.Prot, pmap.FlagsWired)
				}
			}
		}

		return true
	})

	return dst
}
