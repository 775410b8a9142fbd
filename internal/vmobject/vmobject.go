// Package vmobject implements the backing-store abstraction pages are
// indexed under: a refcounted container with a resident-page list and
// a high-water size, keyed by (object pointer, offset) wherever a page
// needs to be found again.
package vmobject

import (
	"github.com/0ctobyte/popcorn-sub000/internal/list"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
)

// Object_t is a page-backed memory object: a file, an anonymous
// mapping, or the kernel's own wired memory.
type Object_t struct {
	lock       spinlock.Spinlock_t
	refcnt     int
	Size       uint64
	llResident list.List_t
}

var kernelObject Object_t
var kernelLvaObject Object_t

// KernelObject is the object backing all wired kernel memory.
func KernelObject() *Object_t { return &kernelObject }

// KernelLvaObject backs the kernel's large-virtual-address region
// (demand-paged kernel memory, as opposed to wired kernel memory).
func KernelLvaObject() *Object_t { return &kernelLvaObject }

// Init sets up the two well-known kernel objects. Called once at boot.
func Init() {
	kernelObject.llResident.Init()
	kernelObject.Reference()
	kernelObject.Size = 0

	kernelLvaObject.llResident.Init()
	kernelLvaObject.Reference()
	kernelLvaObject.Size = 0
}

// New allocates a fresh, zero-sized object with one reference.
func New() *Object_t {
	o := &Object_t{}
	o.llResident.Init()
	o.Reference()
	return o
}

// Destroy drops a reference. It does not free the object or its
// resident pages, even when the count reaches zero.
func (o *Object_t) Destroy() {
	o.lock.AcquireIrq()
	o.refcnt--
	o.lock.ReleaseIrq()
}

// Reference increments the object's refcount.
func (o *Object_t) Reference() {
	o.lock.AcquireIrq()
	o.refcnt++
	o.lock.ReleaseIrq()
}

// Refcnt returns the current reference count.
func (o *Object_t) Refcnt() int {
	o.lock.AcquireIrq()
	defer o.lock.ReleaseIrq()
	return o.refcnt
}

// SetSize grows the object's size watermark; it never shrinks it.
func (o *Object_t) SetSize(newSize uint64) {
	o.lock.AcquireIrq()
	if newSize > o.Size {
		o.Size = newSize
	}
	o.lock.ReleaseIrq()
}

// Lock/Unlock expose the object's own spinlock to vmpage, which must
// serialize resident-list and hash-table membership changes together.
func (o *Object_t) Lock()   { o.lock.AcquireIrq() }
func (o *Object_t) Unlock() { o.lock.ReleaseIrq() }

// Resident returns the object's resident-page list head, for vmpage's
// internal bookkeeping.
func (o *Object_t) Resident() *list.List_t { return &o.llResident }
