// Package proc implements the task/thread model: the address-space
// owner (Task_t) and the schedulable entity (Thread_t), the
// process-wide event hash table, the context-switch protocol, and
// sleep/wake.
//
// Task and Thread live in one package because they are mutually
// referential — a task holds a list of its threads, a thread holds
// its owning task — and Go has no forward declaration across
// packages to break that cycle cleanly.
package proc

import (
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/list"
	"github.com/0ctobyte/popcorn-sub000/internal/lock"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/scheduler"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
	"github.com/0ctobyte/popcorn-sub000/internal/vmmap"
)

// TaskState_t is a task's lifecycle state.
type TaskState_t int

const (
	TaskNew TaskState_t = iota
	TaskActive
	TaskSuspended
	TaskTerminated
)

// ThreadState_t is a thread's lifecycle state.
type ThreadState_t int

const (
	ThreadSuspended ThreadState_t = iota
	ThreadRunnable
	ThreadRunning
	ThreadSleeping
	ThreadTerminated
)

// Context_t is the saved CPU context for a suspended thread: general
// registers, stack/link pointer, and the AArch64 exception-return
// state (ELR/SPSR). The arch layer
// (internal/exception) owns the concrete register layout; this
// package only moves it around opaquely.
type Context_t struct {
	Regs   [31]uint64
	SP     uint64
	PC     uint64
	PSTATE uint64
}

// Task_t owns an address-space map and a list of threads.
type Task_t struct {
	lock       spinlock.Spinlock_t
	Pid        int
	refcnt     int
	state      TaskState_t
	suspendCnt int
	Map        *vmmap.Map_t
	llThreads  list.List_t
	numThreads int
	Parent     *Task_t
	llChildren list.List_t
	snode      list.Node_t // hook in parent's llChildren
}

// Reference increments a task's refcount.
func (task *Task_t) Reference() {
	task.lock.AcquireIrq()
	task.refcnt++
	task.lock.ReleaseIrq()
}

// CreateTask allocates a new task under parent. When inherit is true
// the new task's address space is a clone of parent's (per-mapping
// object references shared, wired pages re-entered into a fresh
// pmap, following vmmap.Clone); otherwise the task starts with an
// empty map over the same bounds.
func CreateTask(parent *Task_t, inherit bool) *Task_t {
	if parent == nil {
		parent = KernelTask()
	}

	newPmap := pmap.Create()

	var m *vmmap.Map_t
	if inherit {
		m = vmmap.Clone(parent.Map, newPmap)
	} else {
		m = vmmap.Create(newPmap, parent.Map.Start, parent.Map.End)
	}

	task := &Task_t{
		Pid:    allocPid(),
		refcnt: 1,
		state:  TaskNew,
		Map:    m,
		Parent: parent,
	}
	task.llThreads.Init()
	task.llChildren.Init()
	task.snode.Init()

	parent.lock.AcquireIrq()
	parent.llChildren.InsertLast(&task.snode, task)
	parent.lock.ReleaseIrq()

	task.lock.AcquireIrq()
	task.state = TaskActive
	task.lock.ReleaseIrq()

	return task
}

// Suspend increments the task's suspend counter; on the 0->1
// transition every thread owned by the task is individually
// suspended. Nested Suspend calls only increment the
// counter further without re-suspending threads already stopped.
func (task *Task_t) Suspend() {
	task.lock.AcquireIrq()
	task.suspendCnt++
	first := task.suspendCnt == 1
	if first {
		task.state = TaskSuspended
	}
	var threads []*Thread_t
	if first {
		task.llThreads.ForEach(func(n *list.Node_t) bool {
			threads = append(threads, n.Elem().(*Thread_t))
			return true
		})
	}
	task.lock.ReleaseIrq()

	for _, t := range threads {
		t.Suspend()
	}
}

// Resume decrements the task's suspend counter; on the 1->0
// transition every thread owned by the task is individually resumed.
func (task *Task_t) Resume() {
	task.lock.AcquireIrq()
	task.suspendCnt--
	last := task.suspendCnt == 0
	if last {
		task.state = TaskActive
	}
	var threads []*Thread_t
	if last {
		task.llThreads.ForEach(func(n *list.Node_t) bool {
			threads = append(threads, n.Elem().(*Thread_t))
			return true
		})
	}
	task.lock.ReleaseIrq()

	for _, t := range threads {
		t.Resume()
	}
}

// Terminate marks the task dead, suspends every thread it owns (they
// never run again), and tears down its address space. Threads already
// parked in the kernel run to their next sleep/exit point; nothing in
// this package forcibly unwinds a running thread's stack.
func (task *Task_t) Terminate() {
	task.lock.AcquireIrq()
	if task.state == TaskTerminated {
		task.lock.ReleaseIrq()
		return
	}
	task.state = TaskTerminated
	var threads []*Thread_t
	task.llThreads.ForEach(func(n *list.Node_t) bool {
		threads = append(threads, n.Elem().(*Thread_t))
		return true
	})
	task.lock.ReleaseIrq()

	for _, t := range threads {
		t.Suspend()
	}

	if task.Parent != nil {
		task.Parent.lock.AcquireIrq()
		task.Parent.llChildren.Remove(&task.snode)
		task.Parent.lock.ReleaseIrq()
	}

	vmmap.Destroy(task.Map)
}

// Thread_t is the unit of scheduling.
type Thread_t struct {
	lock        spinlock.Spinlock_t
	Tid         int
	Task        *Task_t
	state       ThreadState_t
	suspendCnt  int
	refcnt      int
	event       interface{}
	enode       list.Node_t // hook in the event table bucket
	tnode       list.Node_t // hook in Task.llThreads
	KernelStack []byte
	ctx         Context_t
	sched       scheduler.Context_t
	firstRun    bool
	onFirstRun  func(new, old *Thread_t)
}

// SchedContext implements scheduler.Handle_t.
func (t *Thread_t) SchedContext() *scheduler.Context_t {
	return &t.sched
}

// Vruntime implements lock.Waiter_t.
func (t *Thread_t) Vruntime() uint64 {
	return t.sched.Vruntime
}

var tidCounter atomic.Int64
var pidCounter atomic.Int64

func allocTid() int { return int(tidCounter.Add(1)) }
func allocPid() int { return int(pidCounter.Add(1)) }

var kernelTask Task_t
var currentThread *Thread_t

const numEventBuckets = 1024

type eventBucket_t struct {
	lock spinlock.Spinlock_t
	ll   list.List_t
}

var eventTable [numEventBuckets]eventBucket_t

// eventKey reduces an event value (typically a *lock.Lock_t address,
// but any comparable value works) to a uint64 for hashing.
func eventKey(event interface{}) uint64 {
	switch v := event.(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	default:
		rv := reflect.ValueOf(event)
		if rv.Kind() == reflect.Ptr {
			return uint64(rv.Pointer())
		}
		return 0
	}
}

func eventHash(event interface{}) uint64 {
	// fnv1a over the event's identity.
	h := uint64(14695981039346656037)
	h ^= eventKey(event)
	h *= 1099511628211
	return h % numEventBuckets
}

func ptrLess(a, b *Thread_t) bool {
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}

// KernelTask returns the well-known kernel task singleton.
func KernelTask() *Task_t { return &kernelTask }

// Current returns the currently running thread.
func Current() *Thread_t { return currentThread }

// InitTask sets up the kernel task and the event hash table. Must run
// before InitThread.
func InitTask(kernelMap *vmmap.Map_t) {
	kernelTask.Pid = 0
	kernelTask.refcnt = 1
	kernelTask.state = TaskActive
	kernelTask.suspendCnt = 0
	kernelTask.Map = kernelMap
	kernelTask.llThreads.Init()
	kernelTask.llChildren.Init()
	kernelTask.snode.Init()
}

// InitThread creates the thread record wrapping the currently
// executing bootstrap code, so the first real switch has something
// to save into.
func InitThread(clock scheduler.Clock_t) {
	scheduler.Init(clock)
	lock.SetSleeper(sleeperImpl{})

	for i := range eventTable {
		eventTable[i].ll.Init()
	}

	t := &Thread_t{}
	t.Tid = allocTid()
	t.Task = KernelTask()
	t.state = ThreadRunning
	t.suspendCnt = 0
	t.refcnt = 1
	t.tnode.Init()
	t.enode.Init()

	KernelTask().lock.AcquireIrq()
	KernelTask().llThreads.InsertLast(&t.tnode, t)
	KernelTask().numThreads++
	KernelTask().lock.ReleaseIrq()

	currentThread = t
}

// CreateThread allocates a new, initially suspended thread belonging
// to task. onFirstRun is the "first-run stub": it runs exactly once,
// the first time this thread is switched to, and is responsible for
// releasing whichever locks the creator held across the switch before
// the thread's real entry point runs.
func CreateThread(task *Task_t, stackSize int, onFirstRun func(new, old *Thread_t)) (*Thread_t, int) {
	if task == nil {
		return nil, -1
	}

	stack := make([]byte, stackSize)

	t := &Thread_t{}
	t.Tid = allocTid()
	t.Task = task
	t.KernelStack = stack
	t.firstRun = true
	t.onFirstRun = onFirstRun
	t.tnode.Init()
	t.enode.Init()

	task.lock.AcquireIrq()
	t.suspendCnt = task.suspendCnt + 1
	task.llThreads.InsertLast(&t.tnode, t)
	task.numThreads++
	task.lock.ReleaseIrq()

	return t, 0
}

func lockOrdered(a, b *Thread_t, f func()) {
	switch {
	case a == b:
		a.lock.AcquireIrq()
		f()
		a.lock.ReleaseIrq()
	case ptrLess(a, b):
		a.lock.AcquireIrq()
		b.lock.AcquireIrq()
		f()
		b.lock.ReleaseIrq()
		a.lock.ReleaseIrq()
	default:
		b.lock.AcquireIrq()
		a.lock.AcquireIrq()
		f()
		a.lock.ReleaseIrq()
		b.lock.ReleaseIrq()
	}
}

// Switch performs a context switch to newThread. Both thread locks
// are taken in address order and released in reverse on the far side
// of the switch.
func Switch(newThread *Thread_t) {
	if newThread == nil {
		klog.Panicf("proc: switch to nil thread")
	}

	old := currentThread
	lockOrdered(old, newThread, func() {
		wasFirstRun := newThread.firstRun
		newThread.firstRun = false

		// Save old's context, load new's context. On real hardware
		// this is the arch save/restore pair; here the hosted build
		// has nothing to save/restore since Go retains its own
		// goroutine stack, so this records only the logical
		// bookkeeping the rest of the kernel depends on.
		currentThread = newThread

		if wasFirstRun && newThread.onFirstRun != nil {
			newThread.onFirstRun(newThread, old)
		}
	})
}

// SetEntry arms the saved context so the thread's first dispatch
// lands at pc with its stack pointer at the top of its kernel stack.
// No exception frame is written onto the stack.
func (t *Thread_t) SetEntry(pc uint64) {
	t.lock.AcquireIrq()
	t.ctx.PC = pc
	t.ctx.SP = uint64(len(t.KernelStack))
	t.lock.ReleaseIrq()
}

// Context returns a copy of the thread's saved CPU context.
func (t *Thread_t) Context() Context_t {
	t.lock.AcquireIrq()
	defer t.lock.ReleaseIrq()
	return t.ctx
}

// Reference increments a thread's refcount.
func (t *Thread_t) Reference() {
	t.lock.AcquireIrq()
	t.refcnt++
	t.lock.ReleaseIrq()
}

// Unreference decrements a thread's refcount, tearing it down at zero.
func (t *Thread_t) Unreference() {
	t.lock.AcquireIrq()
	t.refcnt--
	dead := t.refcnt == 0
	t.lock.ReleaseIrq()

	if !dead {
		return
	}

	t.Task.lock.AcquireIrq()
	t.Task.llThreads.Remove(&t.tnode)
	t.Task.numThreads--
	t.Task.lock.ReleaseIrq()
}

// Resume decrements the suspend counter and, if it reaches zero,
// makes the thread runnable.
func (t *Thread_t) Resume() {
	t.lock.AcquireIrq()
	t.suspendCnt--
	runnable := t.suspendCnt == 0
	if runnable {
		t.state = ThreadRunnable
	}
	t.lock.ReleaseIrq()

	if runnable {
		scheduler.Add(t)
	}
}

// Suspend increments the suspend counter. The thread is stopped the
// next time it enters the kernel (not preemptively here).
func (t *Thread_t) Suspend() {
	t.lock.AcquireIrq()
	t.suspendCnt++
	t.lock.ReleaseIrq()
}

// Sleep parks the current thread on event, releasing interlock once
// it is safely enqueued, then asks the scheduler for the next thread
// to run and switches to it.
func Sleep(event interface{}, interlock *spinlock.Spinlock_t, interruptible bool) {
	bkt := &eventTable[eventHash(event)]
	cur := currentThread

	bkt.lock.AcquireIrq()
	cur.lock.AcquireIrq()

	cur.event = event
	bkt.ll.InsertLast(&cur.enode, cur)

	interlock.ReleaseIrq()

	cur.lock.ReleaseIrq()
	bkt.lock.ReleaseIrq()

	cur.state = ThreadSleeping
	next := scheduler.Sleep(cur)
	if h, ok := next.(*Thread_t); ok && h != cur {
		Switch(h)
	}
}

// Wake moves every thread sleeping on event back to Runnable.
func Wake(event interface{}) {
	bkt := &eventTable[eventHash(event)]

	bkt.lock.AcquireIrq()
	var toWake []*Thread_t
	bkt.ll.ForEach(func(n *list.Node_t) bool {
		th := n.Elem().(*Thread_t)
		if th.event == event {
			toWake = append(toWake, th)
		}
		return true
	})
	for _, th := range toWake {
		bkt.ll.Remove(&th.enode)
	}
	bkt.lock.ReleaseIrq()

	for _, th := range toWake {
		th.state = ThreadRunnable
		scheduler.Add(th)
	}
}

// WakeOne wakes the first thread sleeping on event.
func WakeOne(event interface{}) {
	bkt := &eventTable[eventHash(event)]

	bkt.lock.AcquireIrq()
	var th *Thread_t
	bkt.ll.ForEach(func(n *list.Node_t) bool {
		cand := n.Elem().(*Thread_t)
		if cand.event == event {
			th = cand
			return false
		}
		return true
	})
	if th != nil {
		bkt.ll.Remove(&th.enode)
	}
	bkt.lock.ReleaseIrq()

	if th != nil {
		th.state = ThreadRunnable
		scheduler.Add(th)
	}
}

// WakeThread wakes exactly w regardless of which event it is
// sleeping on (see internal/lock's ReleaseShared upgrader-targeted
// wake).
func WakeThread(w lock.Waiter_t) {
	th, ok := w.(*Thread_t)
	if !ok || th == nil {
		return
	}

	bkt := &eventTable[eventHash(th.event)]
	bkt.lock.AcquireIrq()
	bkt.ll.Remove(&th.enode)
	bkt.lock.ReleaseIrq()

	th.state = ThreadRunnable
	scheduler.Add(th)
}

// Reschedule implements internal/irq's Scheduler interface: ask the
// scheduler for the next thread to run and switch to it.
func Reschedule() {
	cur := currentThread

	cur.lock.AcquireIrq()
	next := scheduler.Choose(cur)
	cur.lock.ReleaseIrq()

	if h, ok := next.(*Thread_t); ok && h != cur {
		Switch(h)
	}
}

// IrqAdapter_t adapts this package's package-level wake/reschedule
// functions to internal/irq's Sleeper and Scheduler interfaces, so
// irq.Install can be given a value without irq importing this
// package (which would cycle back through internal/lock).
type IrqAdapter_t struct{}

func (IrqAdapter_t) WakeOne(event interface{}) { WakeOne(event) }
func (IrqAdapter_t) Reschedule()               { Reschedule() }

// sleeperImpl implements lock.Sleeper_t over this package's globals.
type sleeperImpl struct{}

func (sleeperImpl) Current() lock.Waiter_t { return currentThread }
func (sleeperImpl) Sleep(event interface{}, interlock *spinlock.Spinlock_t, interruptible bool) {
	Sleep(event, interlock, interruptible)
}
func (sleeperImpl) Wake(event interface{})     { Wake(event) }
func (sleeperImpl) WakeOne(event interface{})  { WakeOne(event) }
func (sleeperImpl) WakeThread(w lock.Waiter_t) { WakeThread(w) }
