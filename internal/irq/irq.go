// Package irq provides a device-independent interrupt dispatch layer:
// a small ops table a platform installs once at boot, and a generic
// handler that acks, wakes whichever thread slept on the IRQ, and
// hands control back to the scheduler.
//
// The controller ops vocabulary is init/enable/disable/ack/end/
// done/clr; Handler early-returns on the spurious ID and otherwise
// runs ack -> wake -> end/done -> restart-timer -> reschedule.
package irq

import (
	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
)

// Id_t identifies an interrupt source.
type Id_t uint16

// Priority_t is a platform-defined interrupt priority level.
type Priority_t uint8

// Type_t is the triggering discipline of an interrupt line.
type Type_t int

const (
	TypeLevelSensitive Type_t = iota
	TypeEdgeTriggered
)

// Ops_t is the function table a platform driver supplies for its
// interrupt controller. At minimum Init, Enable, Disable, Ack, and
// End must be non-nil; GetPending, Done, and Clr are optional.
type Ops_t struct {
	Init       func()
	Enable     func(id Id_t, priority Priority_t, typ Type_t)
	Disable    func(id Id_t)
	GetPending func() Id_t
	Ack        func() Id_t
	End        func(id Id_t)
	Done       func(id Id_t)
	Clr        func(id Id_t)
}

// Controller_t is the installed interrupt controller: its ops table
// plus the two well-known IDs every platform must report.
type Controller_t struct {
	Ops        *Ops_t
	SpuriousID Id_t
	TimerID    Id_t
}

var controller Controller_t

// Sleeper is the minimal thread-park/wake surface irq_handler needs;
// satisfied by internal/proc without irq importing it directly (proc
// already depends on too much for irq to import back).
type Sleeper interface {
	WakeOne(event interface{})
}

// Scheduler is the reschedule hook irq_handler calls after servicing
// an interrupt, again kept as an interface to avoid an import cycle.
type Scheduler interface {
	Reschedule()
}

// Timer is the arch timer restart hook irq_handler uses to re-arm the
// preemption tick after handling a (possibly unrelated) interrupt.
type Timer interface {
	Stop()
	StartMsecs(ms uint64)
}

var sleeper Sleeper
var scheduler Scheduler
var timer Timer

const preemptionTickMsecs = 10

// Install wires the thread-wake, reschedule, and timer surfaces this
// package's generic handler drives. Must run before Init.
func Install(s Sleeper, sch Scheduler, t Timer) {
	sleeper = s
	scheduler = sch
	timer = t
}

// eventKey is the wake-event identity threads sleeping on an IRQ are
// parked under: (controller instance << 16) | id, encoded without a
// raw device pointer cast.
func eventKey(id Id_t) uint64 {
	return (uint64(1) << 16) | uint64(id)
}

// Init installs dev as the platform's interrupt controller and runs
// its Init op. dev.Ops must already be populated by platform setup
// code.
func Init(dev Controller_t) {
	if dev.Ops == nil || dev.Ops.Init == nil || dev.Ops.Enable == nil ||
		dev.Ops.Disable == nil || dev.Ops.Ack == nil || dev.Ops.End == nil {
		klog.Panicf("irq: controller missing required ops")
	}

	controller = dev
	controller.Ops.Init()
}

// Enable arms id at priority with the given trigger type.
func Enable(id Id_t, priority Priority_t, typ Type_t) {
	controller.Ops.Enable(id, priority, typ)
}

// Disable masks id.
func Disable(id Id_t) {
	controller.Ops.Disable(id)
}

// GetPending reports the highest-priority pending interrupt without
// acknowledging it.
func GetPending() (Id_t, defs.Err_t) {
	if controller.Ops.GetPending == nil {
		return 0, defs.EOPNOTSUPP
	}
	return controller.Ops.GetPending(), defs.OK
}

// Ack acknowledges the pending interrupt, returning its ID.
func Ack() Id_t {
	return controller.Ops.Ack()
}

// End signals the controller that id has been minimally serviced.
func End(id Id_t) {
	controller.Ops.End(id)
}

// Done signals the controller that id's device-side handling has
// finished.
func Done(id Id_t) defs.Err_t {
	if controller.Ops.Done == nil {
		return defs.EOPNOTSUPP
	}
	controller.Ops.Done(id)
	return defs.OK
}

// Clr clears a pending interrupt without acknowledging it.
func Clr(id Id_t) defs.Err_t {
	if controller.Ops.Clr == nil {
		return defs.EOPNOTSUPP
	}
	controller.Ops.Clr(id)
	return defs.OK
}

// ThreadSleepEvent returns the event key a thread waiting for id
// should sleep on. It does not park anything itself: the park call is
// the caller's (internal/proc's Sleep), since only that package may
// safely touch the running thread's own state.
func ThreadSleepEvent(id Id_t) uint64 {
	return eventKey(id)
}

// Handler is the generic interrupt entry point the exception vector
// table's IRQ stub calls: ack, early-return on spurious, wake any
// thread parked on this IRQ's event, end/done the interrupt, restart
// the preemption timer, and ask the scheduler to reschedule.
func Handler() {
	id := Ack()

	if id == controller.SpuriousID {
		return
	}

	if sleeper != nil {
		sleeper.WakeOne(eventKey(id))
	}

	if timer != nil {
		timer.Stop()
	}

	End(id)
	Done(id)

	if timer != nil {
		timer.StartMsecs(preemptionTickMsecs)
	}

	if scheduler != nil {
		scheduler.Reschedule()
	}
}
