// Command kernel brings up the memory-management and process
// subsystem on a hosted build, in the same order a bare-metal image
// runs after relocation: page database, pmap bootstrap, kernel map,
// kernel allocator, task/thread records, scheduler, IRQ dispatch.
package main

import (
	"github.com/0ctobyte/popcorn-sub000/internal/arch"
	"github.com/0ctobyte/popcorn-sub000/internal/defs"
	"github.com/0ctobyte/popcorn-sub000/internal/irq"
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
	"github.com/0ctobyte/popcorn-sub000/internal/pmap"
	"github.com/0ctobyte/popcorn-sub000/internal/proc"
	"github.com/0ctobyte/popcorn-sub000/internal/spinlock"
	"github.com/0ctobyte/popcorn-sub000/internal/vmkm"
	"github.com/0ctobyte/popcorn-sub000/internal/vmmap"
	"github.com/0ctobyte/popcorn-sub000/internal/vmobject"
	"github.com/0ctobyte/popcorn-sub000/internal/vmpage"
)

// On hardware these come from the FDT /memory node and the linker's
// [_start, _end) symbols; the hosted build pins them.
const (
	memSize         = 128 << 20
	kernelVirtStart = 0x40000000
	kernelVirtEnd   = 0x80000000
	kernelImageSize = 2 << 20
)

// softController stands in for the platform GIC on a hosted build: a
// single pending slot drained by Ack.
type softController struct {
	pending  irq.Id_t
	hasIrq   bool
	spurious irq.Id_t
}

func (c *softController) ops() *irq.Ops_t {
	return &irq.Ops_t{
		Init:    func() {},
		Enable:  func(id irq.Id_t, p irq.Priority_t, t irq.Type_t) {},
		Disable: func(id irq.Id_t) {},
		Ack: func() irq.Id_t {
			if !c.hasIrq {
				return c.spurious
			}
			c.hasIrq = false
			return c.pending
		},
		End:  func(id irq.Id_t) {},
		Done: func(id irq.Id_t) {},
	}
}

type hostTimer struct{}

func (hostTimer) Stop()                {}
func (hostTimer) StartMsecs(ms uint64) {}

func kmain() {
	granule := arch.DetectGranule()
	klog.Boot("booting: granule %d bytes, %d MiB memory", granule, memSize>>20)

	spinlock.SetIrqController(arch.IrqController_t{})

	vmpage.Init(memSize, uint64(granule))
	vmobject.Init()
	pmap.Bootstrap(uint64(granule), granule.PageShift())
	pmap.Init()
	vmmap.PageSize = uint64(granule)
	vmkm.Init(kernelVirtStart, kernelVirtEnd, kernelImageSize)
	klog.Boot("vm: %d page frames, kernel image %d KiB wired",
		vmpage.NumPages(), kernelImageSize>>10)

	proc.InitTask(vmmap.KernelMap())
	proc.InitThread(arch.Clock)
	klog.Boot("proc: kernel task pid %d up", proc.KernelTask().Pid)

	ctl := &softController{spurious: 1023}
	irq.Install(proc.IrqAdapter_t{}, proc.IrqAdapter_t{}, hostTimer{})
	irq.Init(irq.Controller_t{Ops: ctl.ops(), SpuriousID: 1023, TimerID: 27})
	irq.Enable(27, 0, irq.TypeLevelSensitive)

	// Exercise the allocator the way early boot consumers do.
	va, err := vmkm.Alloc(4*uint64(granule), vmkm.FlagsWired|vmkm.FlagsZero)
	if err != defs.OK {
		klog.Panicf("kmain: vm_km alloc failed: %v", err)
	}
	klog.Boot("vm_km: wired 4 pages at %#x", va)
	vmkm.Free(va, 4*uint64(granule), vmkm.FlagsWired)

	task := proc.CreateTask(proc.KernelTask(), false)
	th, rc := proc.CreateThread(task, int(granule), nil)
	if rc != 0 {
		klog.Panicf("kmain: thread creation failed")
	}
	th.SetEntry(kernelVirtStart)
	th.Resume()
	klog.Boot("proc: task pid %d thread tid %d runnable", task.Pid, th.Tid)

	// Drive a few preemption ticks through the dispatch path.
	for i := 0; i < 3; i++ {
		ctl.pending = 27
		ctl.hasIrq = true
		irq.Handler()
	}

	klog.Boot("idle")
}

func main() {
	kmain()
}
