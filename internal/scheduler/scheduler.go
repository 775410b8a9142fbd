// Package scheduler implements the CFS-style vruntime scheduler: a
// single red-black tree keyed by vruntime, a min_vruntime watermark,
// and add/choose/sleep operations.
//
// The comparator is `vruntime >= other.vruntime => GT` (never EQ),
// so threads with identical vruntime still coexist in the tree.
package scheduler

import (
	"github.com/0ctobyte/popcorn-sub000/internal/rbtree"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
)

// QuantumUs is how long a thread runs before the timer IRQ asks the
// scheduler to reconsider.
const QuantumUs uint64 = 10000

// Context_t is the scheduler-visible portion of a schedulable entity.
// Embed by value inside the owning thread record.
type Context_t struct {
	node     rbtree.Node_t
	Vruntime uint64
}

// Handle_t is anything schedulable; internal/proc's Thread_t
// implements it.
type Handle_t interface {
	SchedContext() *Context_t
}

// Clock_t returns a monotonic microsecond timestamp. Installed once
// at boot; a hosted build backs it with time.Now(), a bare-metal
// build with the arch timer's tick counter.
type Clock_t func() uint64

type scheduler_t struct {
	lock        spinlock.Spinlock_t
	tree        rbtree.Tree_t
	numThreads  int
	minVruntime uint64
	execStart   uint64
	clock       Clock_t
}

var sched = scheduler_t{}

func compare(a, b *rbtree.Node_t) rbtree.CompareResult_t {
	ca := a.Elem().(Handle_t).SchedContext()
	cb := b.Elem().(Handle_t).SchedContext()
	if ca.Vruntime >= cb.Vruntime {
		return rbtree.GT
	}
	return rbtree.LT
}

// Init resets the scheduler singleton. clock supplies monotonic
// microsecond timestamps.
func Init(clock Clock_t) {
	sched.tree.Init()
	sched.numThreads = 1
	sched.minVruntime = 0
	sched.execStart = 0
	sched.clock = clock
}

// NumThreads returns the number of threads currently known to the
// scheduler (runnable + the one currently running).
func NumThreads() int {
	return sched.numThreads
}

// MinVruntime returns the current min_vruntime watermark.
func MinVruntime() uint64 {
	return sched.minVruntime
}

func chooseLocked() Handle_t {
	min := sched.tree.TreeMin()
	if min == nil {
		panic("scheduler: no runnable thread")
	}
	h := min.Elem().(Handle_t)
	if ok := sched.tree.Remove(min); !ok {
		panic("scheduler: failed to remove chosen thread")
	}
	sched.minVruntime = h.SchedContext().Vruntime
	sched.execStart = sched.clock()
	return h
}

// Add inserts a thread into the runnable population. The caller must
// already hold the thread's own lock. The thread's vruntime is
// clamped to the current
// min_vruntime so a long-sleeping thread cannot monopolize the CPU.
func Add(h Handle_t) {
	sched.lock.AcquireIrq()

	sched.numThreads++
	h.SchedContext().Vruntime = sched.minVruntime
	if ok := sched.tree.Insert(compare, &h.SchedContext().node, h); !ok {
		panic("scheduler: duplicate insert")
	}

	sched.lock.ReleaseIrq()
}

// Remove takes a thread out of the runnable population. The caller
// must already hold the thread's own lock.
func Remove(h Handle_t) {
	sched.lock.AcquireIrq()

	sched.numThreads--
	sched.tree.Remove(&h.SchedContext().node)

	sched.lock.ReleaseIrq()
}

// Choose accounts the current thread's elapsed vruntime, reinserts
// it as runnable, and returns the next thread to run (which may be
// the same thread). The caller must hold current's lock across this
// call and release it only after inspecting the result (scheduler
// lock, then current thread lock, released in reverse).
func Choose(current Handle_t) Handle_t {
	sched.lock.AcquireIrq()

	ctx := current.SchedContext()
	ctx.Vruntime += sched.clock() - sched.execStart
	if ok := sched.tree.Insert(compare, &ctx.node, current); !ok {
		panic("scheduler: duplicate insert on choose")
	}

	next := chooseLocked()

	sched.lock.ReleaseIrq()
	return next
}

// Sleep accounts the current thread's elapsed vruntime but does
// *not* reinsert it (the caller has already parked it on an event
// bucket) and returns the next thread to run.
func Sleep(current Handle_t) Handle_t {
	sched.lock.AcquireIrq()

	sched.numThreads--
	ctx := current.SchedContext()
	ctx.Vruntime += sched.clock() - sched.execStart

	next := chooseLocked()

	sched.lock.ReleaseIrq()
	return next
}
