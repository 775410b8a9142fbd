// Package vmkm implements the kernel virtual-address-space allocator:
// vm_map_enter on the kernel map plus, unless the caller only wants
// bare VA, page allocation from internal/vmpage and wiring into
// internal/pmap.
//
// Init maps only the resident kernel image at boot and leaves the
// rest of the kernel map's range as a hole-tracked free region.
// Mapping the whole remaining range to kernel_lva_object up front
// would leave both mappings'
// hole_size at zero (they are mutually adjacent and the second one
// butts against vmap->end) — so vmap->rb_holes ends up empty and every
// subsequent vm_km_alloc can never find a hole. This keeps
// kernel_lva_object as the object backing demand-paged kernel
// allocations but does not pre-map it over the whole tail of the
// address space, so a real hole remains for Alloc's first-fit to use.
package vmkm

import (
	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
)

// Flags_t controls how Alloc populates the range it finds.
type Flags_t uint

const (
	FlagsWired   Flags_t = 1 << 0 // pin the allocated pages
	FlagsVAOnly  Flags_t = 1 << 1 // reserve the range; don't back it with pages
	FlagsZero    Flags_t = 1 << 2 // zero-fill the allocated pages
	FlagsExec    Flags_t = 1 << 3 // map with execute permission
	FlagsCanFail Flags_t = 1 << 4 // return an error instead of panicking on exhaustion
)

var kernelObject *vmobject.Object_t
var kernelLvaObject *vmobject.Object_t

// stealArena is a bump allocator over a fixed early-boot buffer, for
// carving backing storage (such as slab buffers) before vmkm.Alloc is
// itself callable. vmmap's mapping records and proc's task/thread
// records are ordinary Go allocations and do not come from it.
var stealArena []byte
var stealOffset int

// InitStealArena installs the fixed buffer StealMemory bumps through.
// Call once, before any package calls StealMemory.
func InitStealArena(buf []byte) {
	stealArena = buf
	stealOffset = 0
}

// StealMemory returns a zeroed slice of size bytes carved out of the
// steal arena, or nil if the arena is exhausted.
func StealMemory(size int) []byte {
	if stealOffset+size > len(stealArena) {
		return nil
	}
	buf := stealArena[stealOffset : stealOffset+size]
	stealOffset += size
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Init sets up the kernel map over [virtualStart, virtualEnd) and
// reserves [virtualStart, virtualStart+residentSize) for the
// kernel's own wired image, backed by kernelObject. The remainder of
// the range is left as a hole for Alloc.
func Init(virtualStart, virtualEnd, residentSize uint64) {
	vmmap.InitKernelMap(virtualStart, virtualEnd)

	kernelObject = vmobject.KernelObject()
	kernelLvaObject = vmobject.KernelLvaObject()

	m := vmmap.KernelMap()
	if err := vmmap.EnterAt(m, virtualStart, residentSize, kernelObject, 0, pmap.ProtRead|pmap.ProtWrite|pmap.ProtExecute); err != defs.OK {
		panic("vmkm: failed to map resident kernel image")
	}
}

func objectFor(flags Flags_t) *vmobject.Object_t {
	if flags&FlagsWired != 0 {
		return kernelObject
	}
	return kernelLvaObject
}

func protFor(flags Flags_t) pmap.Prot_t {
	prot := pmap.ProtRead | pmap.ProtWrite
	if flags&FlagsExec != 0 {
		prot |= pmap.ProtExecute
	}
	return prot
}

// Alloc reserves size bytes of kernel virtual address space and,
// unless FlagsVAOnly is set, backs it with freshly allocated pages
// wired per FlagsWired. Returns the chosen address, or 0 with
// defs.ENOMEM if FlagsCanFail is set and no space/pages are
// available; panics on exhaustion otherwise, matching vm_km_alloc.
func Alloc(size uint64, flags Flags_t) (uint64, defs.Err_t) {
	m := vmmap.KernelMap()
	object := objectFor(flags)
	prot := protFor(flags)

	size = roundUp(size, vmmap.PageSize)

	offset := object.Size
	vstart, err := vmmap.Enter(m, size, object, offset, prot)
	if err != defs.OK {
		if flags&FlagsCanFail != 0 {
			return 0, err
		}
		panic("vmkm: alloc - vm_map enter failed")
	}
	object.SetSize(offset + size)

	if flags&FlagsVAOnly != 0 {
		return vstart, defs.OK
	}

	pflags := pmap.FlagsNone
	if flags&FlagsWired != 0 {
		pflags |= pmap.FlagsWired
	}

	for va, end, off := vstart, vstart+size, offset; va < end; va, off = va+vmmap.PageSize, off+vmmap.PageSize {
		page := vmpage.Alloc(object, off)
		if page == nil {
			if flags&FlagsCanFail != 0 {
				vmmap.Remove(m, vstart, vstart+size)
				return 0, defs.ENOMEM
			}
			panic("vmkm: alloc - out of physical pages")
		}
		pmap.Enter(m.Pmap, va, vmpage.ToPA(page), prot, pflags)
	}

	if flags&FlagsZero != 0 {
		zeroRange(vstart, size)
	}

	return vstart, defs.OK
}

// zeroRange writes zero to every page in [va, va+size) through the
// synthetic table pool's backing page data. Hosted builds have no
// direct "current address space" pointer dereference the way
// arch_fast_zero does on real hardware, so this resolves each page's
// physical frame and zeroes its backing buffer directly.
func zeroRange(va, size uint64) {
	for off := uint64(0); off < size; off += vmmap.PageSize {
		mp, ok := vmmap.Lookup(vmmap.KernelMap(), va+off)
		if !ok {
			continue
		}
		page := vmpage.Lookup(mp.Object, mp.Offset+(va+off-mp.Vstart))
		if page == nil {
			continue
		}
		vmpage.Zero(page)
	}
}

// Free removes the page-rounded VA range from the kernel map, which
// also drops its pmap entries. It does not free the backing pages,
// which stay resident in their object, and flags is not consulted.
func Free(va, size uint64, flags Flags_t) {
	m := vmmap.KernelMap()
	vmmap.Remove(m, va, va+roundUp(size, vmmap.PageSize))
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
