//go:build !lockdebug

// Package spinlock implements a busy-wait mutual-exclusion lock with a
// packed-bit-field word (acquired bit, prior-interrupt-state bit,
// reader lightswitch bit, reader count) and reader/writer variants.
//
// The four-field packed layout is observable through Word(), which
// rules out building this on top of sync.Mutex; the test-and-set
// primitive is sync/atomic.
//
// Building with -tags lockdebug swaps this file out for
// spinlock_debug.go, which trades the packed-word layout for
// go-deadlock's held-lock-graph cycle detection during development.
package spinlock

import (
	"sync/atomic"

	"github.com/0ctobyte/popcorn-sub000/internal/klog"
)

const (
	bitAcquired    = 0x1
	bitEnabled     = 0x2
	bitLightswitch = 0x4
	readerShift    = 3
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

// Spinlock_t is a packed-word spinlock. Zero value is unlocked.
type Spinlock_t struct {
	word atomic.Uint64
}

// Word returns the raw packed word: bit 0 acquired, bit 1 prior-IRQ
// state, bit 2 reader lightswitch, bits 3+ reader count.
func (l *Spinlock_t) Word() uint64 {
	return l.word.Load()
}

// Readers returns the current shared-holder count.
func (l *Spinlock_t) Readers() uint64 {
	return readerCount(l.word.Load())
}

func testAndSetBit(word *atomic.Uint64, bit uint64) bool {
	for {
		old := word.Load()
		if old&bit != 0 {
			return true
		}
		if word.CompareAndSwap(old, old|bit) {
			return false
		}
	}
}

func (l *Spinlock_t) acquireBits(bits uint64) {
	for testAndSetBit(&l.word, bits) {
	}
}

func (l *Spinlock_t) releaseBits(bits uint64) {
	for {
		old := l.word.Load()
		if l.word.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}

// Acquire busy-waits for exclusive ownership.
func (l *Spinlock_t) Acquire() {
	l.acquireBits(bitAcquired)
}

// Release releases exclusive ownership.
func (l *Spinlock_t) Release() {
	if l.word.Load()&bitAcquired == 0 {
		klog.Panicf("spinlock: release of unacquired lock")
	}
	l.releaseBits(bitAcquired | bitEnabled)
}

// TryAcquire attempts to acquire without blocking.
func (l *Spinlock_t) TryAcquire() bool {
	return !testAndSetBit(&l.word, bitAcquired)
}

// AcquireIrq disables interrupts, then acquires, recording whether
// interrupts were previously enabled so ReleaseIrq can restore them.
func (l *Spinlock_t) AcquireIrq() {
	enabled := irqctl.Enabled()
	irqctl.Disable()
	l.Acquire()
	if enabled {
		for {
			old := l.word.Load()
			if l.word.CompareAndSwap(old, old|bitEnabled) {
				break
			}
		}
	}
}

// ReleaseIrq releases and restores the interrupt state recorded by
// AcquireIrq.
func (l *Spinlock_t) ReleaseIrq() {
	enabled := l.word.Load()&bitEnabled != 0
	l.Release()
	if enabled {
		irqctl.Enable()
	}
}

func readerCount(word uint64) uint64 {
	return word >> readerShift
}

func setReaderCount(word *atomic.Uint64, count uint64) {
	for {
		old := word.Load()
		readerMask := ^uint64(0)
		readerMask <<= readerShift
		new := (old &^ readerMask) | (count << readerShift)
		if word.CompareAndSwap(old, new) {
			return
		}
	}
}

// AcquireRead acquires shared (reader) access. The first reader takes
// the underlying write lock; later readers proceed immediately.
// Readers are preferred: writers may starve.
func (l *Spinlock_t) AcquireRead() {
	l.acquireBits(bitLightswitch)

	count := readerCount(l.word.Load()) + 1
	setReaderCount(&l.word, count)

	if count == 1 {
		l.Acquire()
	}

	l.releaseBits(bitLightswitch)
}

// ReleaseRead releases shared (reader) access. The last reader
// releases the underlying write lock.
func (l *Spinlock_t) ReleaseRead() {
	l.acquireBits(bitLightswitch)

	count := readerCount(l.word.Load())
	if count == 0 {
		klog.Panicf("spinlock: read-release without read-acquire")
	}
	count--
	setReaderCount(&l.word, count)

	if count == 0 {
		l.Release()
		// Release already cleared bitAcquired|bitEnabled; nothing else to do.
		l.releaseBits(bitLightswitch)
		return
	}

	l.releaseBits(bitLightswitch)
}
