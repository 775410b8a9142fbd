// Package lock implements a sleepable reader/writer lock with
// priority-inversion avoidance for exclusive waiters bidding against
// shared holders.
package lock

import (
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
)

// State_t is the sleepable lock's ownership state.
type State_t int

const (
	Free State_t = iota
	Shared
	Exclusive
	ExclusiveUpgrade
)

// Waiter_t abstracts the identity of the calling thread and its
// scheduling priority key, so this package does not import
// internal/proc directly (internal/proc imports this package to
// install its sleep/wake surface, so the reverse import would be a
// cycle).
type Waiter_t interface {
	// Vruntime returns the caller's current scheduler vruntime, used
	// to decide which waiting writer gets priority.
	Vruntime() uint64
}

// Sleeper_t is the thread-sleep/wake surface this lock parks on. The
// lock address itself is the wake event.
type Sleeper_t interface {
	Current() Waiter_t
	Sleep(event interface{}, interlock *spinlock.Spinlock_t, interruptible bool)
	Wake(event interface{})
	WakeOne(event interface{})
	// WakeThread wakes exactly the given thread regardless of which
	// event it is sleeping on — used to wake the single designated
	// upgrader recorded by AcquireExclusive, which is asleep on this
	// lock's event but must be targeted by identity, not by a generic
	// first-match scan (see ReleaseShared).
	WakeThread(w Waiter_t)
}

// spinSleeper is the pre-boot fallback: before the thread system is
// up there is nothing to park, so contended acquires release the
// interlock and retry.
type spinSleeper struct{}

func (spinSleeper) Current() Waiter_t { return nil }
func (spinSleeper) Sleep(event interface{}, interlock *spinlock.Spinlock_t, interruptible bool) {
	interlock.ReleaseIrq()
}
func (spinSleeper) Wake(event interface{})    {}
func (spinSleeper) WakeOne(event interface{}) {}
func (spinSleeper) WakeThread(w Waiter_t)     {}

var sleeper Sleeper_t = spinSleeper{}

// SetSleeper installs the scheduler/thread sleep-wake surface used by
// this package. Called once during boot by internal/proc.
func SetSleeper(s Sleeper_t) {
	sleeper = s
}

// vruntimeOf treats an unknown caller (pre-boot bootstrap code, which
// has no thread record yet) as highest priority.
func vruntimeOf(w Waiter_t) uint64 {
	if w == nil {
		return 0
	}
	return w.Vruntime()
}

// Lock_t is a sleepable RW lock.
type Lock_t struct {
	interlock   spinlock.Spinlock_t
	state       State_t
	sharedCount int
	thread      Waiter_t
}

// AcquireExclusive blocks until exclusive ownership is obtained.
func (l *Lock_t) AcquireExclusive() {
	l.interlock.AcquireIrq()

	for l.state != Free {
		if l.state == Shared {
			l.thread = sleeper.Current()
			l.state = ExclusiveUpgrade
		} else if l.state == ExclusiveUpgrade && vruntimeOf(sleeper.Current()) < vruntimeOf(l.thread) {
			l.thread = sleeper.Current()
		}

		sleeper.Sleep(l, &l.interlock, false)
		l.interlock.AcquireIrq()
	}

	l.thread = sleeper.Current()
	l.state = Exclusive

	l.interlock.ReleaseIrq()
}

// AcquireShared blocks until shared ownership is obtained.
func (l *Lock_t) AcquireShared() {
	l.interlock.AcquireIrq()

	for l.state == Exclusive ||
		(l.state == ExclusiveUpgrade && vruntimeOf(sleeper.Current()) > vruntimeOf(l.thread)) {
		sleeper.Sleep(l, &l.interlock, false)
		l.interlock.AcquireIrq()
	}

	l.sharedCount++
	if l.state != ExclusiveUpgrade {
		l.state = Shared
	}

	l.interlock.ReleaseIrq()
}

// TryAcquireExclusive attempts exclusive ownership without blocking.
func (l *Lock_t) TryAcquireExclusive() bool {
	l.interlock.AcquireIrq()
	defer l.interlock.ReleaseIrq()

	if l.state != Free {
		return false
	}

	l.thread = sleeper.Current()
	l.state = Exclusive
	return true
}

// TryAcquireShared attempts shared ownership without blocking.
func (l *Lock_t) TryAcquireShared() bool {
	l.interlock.AcquireIrq()
	defer l.interlock.ReleaseIrq()

	if l.state == Exclusive ||
		(l.state == ExclusiveUpgrade && vruntimeOf(sleeper.Current()) > vruntimeOf(l.thread)) {
		return false
	}

	l.sharedCount++
	if l.state != ExclusiveUpgrade {
		l.state = Shared
	}
	return true
}

// ReleaseExclusive releases exclusive ownership and wakes waiters.
// Release never runs while holding the interlock.
func (l *Lock_t) ReleaseExclusive() {
	l.interlock.AcquireIrq()

	if l.state != Exclusive || l.thread != sleeper.Current() {
		klog.Panicf("lock: release_exclusive by non-owner")
	}

	l.thread = nil
	l.state = Free

	l.interlock.ReleaseIrq()

	sleeper.Wake(l)
}

// ReleaseShared releases one shared ownership and, if this was the
// last reader, wakes either the designated upgrader alone or all
// waiters.
func (l *Lock_t) ReleaseShared() {
	var thread Waiter_t
	doWake := false

	l.interlock.AcquireIrq()

	if l.sharedCount <= 0 {
		klog.Panicf("lock: release_shared without shared ownership")
	}

	if l.state == ExclusiveUpgrade {
		thread = l.thread
	}

	l.sharedCount--
	if l.sharedCount == 0 {
		l.state = Free
		doWake = true
	}

	l.interlock.ReleaseIrq()

	if doWake {
		if thread != nil {
			sleeper.WakeThread(thread)
		} else {
			sleeper.Wake(l)
		}
	}
}
