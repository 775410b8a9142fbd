//go:build lockdebug

// Debug build of Spinlock_t: same surface as spinlock.go, but backed by
// github.com/sasha-s/go-deadlock instead of the packed atomic word, so a
// misordered Acquire/AcquireRead pair during development is reported as
// a deadlock-cycle warning instead of hanging the test run.
package spinlock

import (
	"github.com/sasha-s/go-deadlock"
)

// IrqController_t abstracts enabling/disabling interrupts so this
// package stays testable on a hosted build where there is no real
// interrupt controller. Installed once at boot by internal/irq.
type IrqController_t interface {
	Enabled() bool
	Disable()
	Enable()
}

type nopIrq struct{}

func (nopIrq) Enabled() bool { return true }
func (nopIrq) Disable()      {}
func (nopIrq) Enable()       {}

var irqctl IrqController_t = nopIrq{}

// SetIrqController installs the arch interrupt controller used by
// AcquireIrq/ReleaseIrq. Called once during boot.
func SetIrqController(c IrqController_t) {
	irqctl = c
}

// Spinlock_t is a deadlock-checked reader/writer lock. Zero value is
// unlocked.
type Spinlock_t struct {
	mu deadlock.RWMutex
}

func (l *Spinlock_t) Acquire() { l.mu.Lock() }
func (l *Spinlock_t) Release() { l.mu.Unlock() }

func (l *Spinlock_t) TryAcquire() bool {
	return l.mu.TryLock()
}

// AcquireIrq disables interrupts, then acquires exclusive ownership.
func (l *Spinlock_t) AcquireIrq() {
	irqctl.Disable()
	l.mu.Lock()
}

// ReleaseIrq releases exclusive ownership and re-enables interrupts.
func (l *Spinlock_t) ReleaseIrq() {
	l.mu.Unlock()
	irqctl.Enable()
}

// AcquireRead acquires shared (reader) access.
func (l *Spinlock_t) AcquireRead() { l.mu.RLock() }

// ReleaseRead releases shared (reader) access.
func (l *Spinlock_t) ReleaseRead() { l.mu.RUnlock() }
