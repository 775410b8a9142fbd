// Package exception dispatches the AArch64 16-entry exception vector
// table: synchronous/IRQ/FIQ/SError, each from the current exception
// level with SP_EL0, current level with SP_ELx, and lower level under
// AArch64 or AArch32.
//
// Type_t enumerates the 16 vector-table entries; the ESR
// exception-class decode table covers the classes the handler
// recognizes. Dispatch is per-type (IRQ/FIQ return
// immediately to the caller, AArch32 types halt as unsupported, and
// synchronous/SError traps are decoded, dumped, and halt).
package exception

import (
	"fmt"

	"github.com/0ctobyte/popcorn-sub000/internal/irq"
	"github.com/0ctobyte/popcorn-sub000/internal/klog"
)

// Type_t identifies which of the 16 vector table slots trapped.
type Type_t int

const (
	SyncSpEl0 Type_t = iota
	IrqSpEl0
	FiqSpEl0
	SErrSpEl0
	SyncSpElx
	IrqSpElx
	FiqSpElx
	SErrSpElx
	SyncLowerAarch64
	IrqLowerAarch64
	FiqLowerAarch64
	SErrLowerAarch64
	SyncLowerAarch32
	IrqLowerAarch32
	FiqLowerAarch32
	SErrLowerAarch32
)

// Class_t is the decoded ESR.EC field (bits [31:26]).
type Class_t uint

const (
	ClassUnknownReason             Class_t = 0x0
	ClassTrapWfiWfe                Class_t = 0x1
	ClassIllegalExecutionState     Class_t = 0xe
	ClassSvcAarch64                Class_t = 0x15
	ClassInstructionAbortLowerEL   Class_t = 0x20
	ClassInstructionAbortCurrentEL Class_t = 0x21
	ClassPCAlignmentFault          Class_t = 0x22
	ClassDataAbortLowerEL          Class_t = 0x24
	ClassDataAbortCurrentEL        Class_t = 0x25
	ClassSError                    Class_t = 0x2f
)

// Context_t is the saved register frame at exception entry: general
// registers x0-x29, lr (x30), sp, and the four AArch64 exception
// syndrome registers.
type Context_t struct {
	X    [30]uint64
	LR   uint64
	SP   uint64
	ELR  uint64
	SPSR uint64
	FAR  uint64
	ESR  uint64
}

func execClass(esr uint64) Class_t { return Class_t((esr >> 26) & 0x3f) }
func execISS(esr uint64) uint64    { return esr & 0x1ffffff }

// isoDecode renders the lower 6 bits of a data/instruction abort ISS,
// matching _arch_exception_iss_decode_error's switch table.
func isoDecode(esr uint64) string {
	switch execISS(esr) & 0x3f {
	case 0x00, 0x01, 0x02, 0x03:
		return fmt.Sprintf("Address size fault, level %d", execISS(esr)&0x3)
	case 0x04, 0x05, 0x06, 0x07:
		return fmt.Sprintf("Translation fault, level %d", execISS(esr)&0x3)
	case 0x09, 0x0a, 0x0b:
		return fmt.Sprintf("Access flag fault, level %d", execISS(esr)&0x3)
	case 0x0d, 0x0e, 0x0f:
		return fmt.Sprintf("Permission fault, level %d", execISS(esr)&0x3)
	case 0x10:
		return "Synchronous external abort"
	case 0x14, 0x15, 0x16, 0x17:
		return fmt.Sprintf("Synchronous external abort, level %d", execISS(esr)&0x3)
	case 0x21:
		return "Alignment fault"
	case 0x30:
		return "TLB conflict abort"
	default:
		return ""
	}
}

// classDecode reports whether exc_class decoded to a known class
// with a message (true) or is unrecognized (false),
// mirroring _arch_exception_class_decode_error's bool return.
func classDecode(ctx *Context_t) (string, bool) {
	class := execClass(ctx.ESR)
	switch class {
	case ClassUnknownReason:
		return "unknown reason", true
	case ClassIllegalExecutionState:
		return "illegal execution state", true
	case ClassInstructionAbortLowerEL:
		return "instruction abort, lower EL: " + isoDecode(ctx.ESR), true
	case ClassInstructionAbortCurrentEL:
		return "instruction abort, current EL: " + isoDecode(ctx.ESR), true
	case ClassPCAlignmentFault:
		return "PC alignment fault", true
	case ClassDataAbortLowerEL:
		return "data abort, lower EL: " + isoDecode(ctx.ESR), true
	case ClassDataAbortCurrentEL:
		return "data abort, current EL: " + isoDecode(ctx.ESR), true
	case ClassSError:
		return "SError", true
	default:
		return "", false
	}
}

// DumpState logs a register dump, used before halting on an
// unrecoverable exception.
func DumpState(ctx *Context_t) {
	for i := 0; i < 30; i += 4 {
		klog.Warnf("x%d: %#016x  x%d: %#016x  x%d: %#016x  x%d: %#016x",
			i, ctx.X[i], i+1, regOrLink(ctx, i+1), i+2, regOrSP(ctx, i+2), i+3, ctx.X[minInt(i+3, 29)])
	}
	klog.Warnf("pc: %#016x  spsr: %#016x  far: %#016x  esr: %#016x", ctx.ELR, ctx.SPSR, ctx.FAR, ctx.ESR)
	klog.Warnf("mode: EL%d%s", (ctx.SPSR>>2)&0x3, modeSuffix(ctx.SPSR))
}

func regOrLink(ctx *Context_t, i int) uint64 {
	if i == 29 {
		return ctx.LR
	}
	return ctx.X[i]
}

func regOrSP(ctx *Context_t, i int) uint64 {
	if i >= 30 {
		return ctx.SP
	}
	return ctx.X[i]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func modeSuffix(spsr uint64) string {
	if spsr&0x1 != 0 {
		return "h"
	}
	return "t"
}

// Handler dispatches a trapped exception: IRQ/FIQ return immediately
// to internal/irq's generic handler; synchronous and SError traps are
// decoded, logged, and fatal if the class is unrecognized or if the
// caller runs this in AArch32 (unsupported). A recognized class is
// still a fatal halt once state has been dumped; the decode step
// only changes whether a message is printed before halting, not
// whether it halts.
func Handler(typ Type_t, ctx *Context_t) {
	switch typ {
	case IrqSpEl0, IrqSpElx, IrqLowerAarch64:
		irq.Handler()
		return
	case FiqSpEl0, FiqSpElx, FiqLowerAarch64:
		return
	case SyncLowerAarch32, IrqLowerAarch32, FiqLowerAarch32, SErrLowerAarch32:
		klog.Panicf("exception: AArch32 execution is not supported")
		return
	case SyncSpEl0, SyncSpElx, SyncLowerAarch64:
		klog.Warnf("synchronous exception")
	case SErrSpEl0, SErrSpElx, SErrLowerAarch64:
		klog.Warnf("SError exception")
	default:
		klog.Panicf("exception: unknown exception type %d", typ)
		return
	}

	if msg, ok := classDecode(ctx); ok {
		klog.Warnf("%s", msg)
	}

	DumpState(ctx)
	klog.Panicf("exception: halting")
}
