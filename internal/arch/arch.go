// Package arch holds the small set of platform-specific details the
// rest of the kernel depends on but cannot itself decide: which MMU
// translation granule the CPU supports, a monotonic clock for the
// scheduler, and the interrupt-enable/disable primitive the spinlock
// package's IrqController_t wraps.
//
// On hardware, granule support comes from MRS reads of
// ID_AA64MMFR0_EL1 and interrupt masking from DAIF
// primitives. A hosted Go process has neither a
// real ID_AA64MMFR0_EL1 nor a real PSTATE.DAIF to read, so this package
// exposes the same decisions through values a host can actually supply:
// a configured granule (defaulting to the universally-supported 4KB)
// and a software IRQ-enable flag guarding the scheduler's own
// preemption point, documented as an Open Question resolution in
// DESIGN.md.
package arch

import (
	"sync/atomic"
	"time"
)

// Granule_t is one of the three page-table granule sizes AArch64
// stage-1 translation supports.
type Granule_t uint64

const (
	Granule4KB  Granule_t = 4096
	Granule16KB Granule_t = 16384
	Granule64KB Granule_t = 65536
)

// PageShift returns the log2 of g, matching pmap.Bootstrap's
// pageShift argument.
func (g Granule_t) PageShift() uint {
	shift := uint(0)
	for v := uint64(g); v > 1; v >>= 1 {
		shift++
	}
	return shift
}

var configuredGranule = Granule4KB

// DetectGranule returns the translation granule this build is
// configured for. A real bring-up reads ID_AA64MMFR0_EL1 (see
// arch_mmu_is_4kb_granule_supported and its 16KB/64KB siblings) and
// picks the smallest one the hardware supports and the platform
// config requests; a hosted build has no such register, so the
// granule is fixed at boot by SetGranule instead (4KB otherwise,
// since every AArch64 implementation supports it).
func DetectGranule() Granule_t {
	return configuredGranule
}

// SetGranule overrides the granule DetectGranule reports. Used by
// bring-up code (or tests) that need a 16KB/64KB pmap layout instead
// of the 4KB default.
func SetGranule(g Granule_t) {
	configuredGranule = g
}

// --- clock ---

var bootInstant = time.Now()
var clockOverride atomic.Int64 // nanoseconds since bootInstant; 0 means "use wall clock"
var clockOverridden atomic.Bool

// Clock returns a monotonic microsecond timestamp suitable for
// scheduler.Clock_t, measured from this package's load time (the
// "boot" instant in a hosted build).
func Clock() uint64 {
	if clockOverridden.Load() {
		return uint64(clockOverride.Load()) / 1000
	}
	return uint64(time.Since(bootInstant).Nanoseconds()) / 1000
}

// AdvanceClockForTest moves the overridden clock forward by us
// microseconds and returns the new reading; real scheduling code
// never calls this; it exists so scheduler/proc tests can assert
// exact vruntime accounting without sleeping real wall-clock time.
func AdvanceClockForTest(us uint64) uint64 {
	clockOverridden.Store(true)
	return uint64(clockOverride.Add(int64(us)*1000)) / 1000
}

// --- interrupt enable/disable ---

var irqEnabled atomic.Bool

func init() {
	irqEnabled.Store(true)
}

// IrqController_t implements spinlock.IrqController_t over a software
// flag. Real hardware reads/writes PSTATE.DAIF; this hosted build has
// no such register, so AcquireIrq/ReleaseIrq's "were interrupts
// enabled" bookkeeping is tracked directly instead.
type IrqController_t struct{}

func (IrqController_t) Enabled() bool { return irqEnabled.Load() }
func (IrqController_t) Disable()      { irqEnabled.Store(false) }
func (IrqController_t) Enable()       { irqEnabled.Store(true) }
