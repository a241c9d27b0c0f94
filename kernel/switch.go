package kernel

import (
	"reflect"
	"runtime"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/interrupt"
)

// Saved machine state slots.
const (
	PCState         = iota // where the thread resumes
	FPState                // frame of the root trampoline
	InitialPCState         // thread body
	InitialArgState        // non zero when the body has an argument
	WhenDonePCState        // called after the body returns
	StartupPCState         // called before the body runs
)

// rootFrameMarker is pushed on a fresh stack as the root trampoline's
// return slot and checked when the thread is first switched in.
const rootFrameMarker uintptr = 0x600dfeed

// rootFrameSize is the room the trampoline frame takes at the stack top.
const rootFrameSize = 16

// haltUnwind unwinds the goroutine that called Kernel.Run once the machine halts.
type haltUnwind struct{}

func funcPC(fn interface{}) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// Code addresses stored in saved contexts. Assigned in init: the functions
// themselves reach switchContext, which reads these.
var rootPC, resumePC, finishPC, enablePC uintptr

func init() {
	rootPC = funcPC((*Kernel).root)
	resumePC = funcPC((*Thread).park)
	finishPC = funcPC((*Thread).Finish)
	enablePC = funcPC((*interrupt.Controller).Enable)
}

// prime sets up a fresh stack and context so that the first switch into t
// enters the root trampoline, which runs startup, the body, then when-done.
func (t *Thread) prime() {
	top := t.stack.High()
	t.stack.PutWord(8, rootFrameMarker)
	t.context.StackTop = top - rootFrameSize
	t.context.MachineState[PCState] = rootPC
	t.context.MachineState[FPState] = top - 8
	t.context.MachineState[InitialPCState] = funcPC(t.fn)
	if t.arg != nil {
		t.context.MachineState[InitialArgState] = 1
	}
	t.context.MachineState[WhenDonePCState] = finishPC
	t.context.MachineState[StartupPCState] = enablePC
}

// switchContext stops running old and starts running next. It returns when
// old is switched back in. A thread that is never resumed leaves through
// park: destroyed threads end their goroutine, and on halt every thread
// unwinds.
func (k *Kernel) switchContext(old, next *Thread) {
	diag.Assert(k.interrupt.Level() == interrupt.Off, "context switch with interrupts enabled")
	old.context.MachineState[PCState] = resumePC
	if old.stack != nil {
		old.context.StackTop = old.stack.High() - rootFrameSize
	}

	switch next.context.MachineState[PCState] {
	case rootPC:
		if next.stack == nil || next.stack.Word(8) != rootFrameMarker ||
			next.context.StackTop != next.stack.High()-rootFrameSize {
			diag.Fatalf(diag.ErrContextSwitch, "thread %q has no root frame", next.name)
		}
		next.checkPrimed()
		next.context.MachineState[PCState] = resumePC
		k.wg.Add(1)
		go k.root(next)
	case resumePC:
		next.resume <- struct{}{}
	default:
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has corrupt saved state", next.name)
	}
	old.park()
}

// checkPrimed verifies the slots prime filled in: the root trampoline enables
// interrupts, runs the body with its argument, then finishes the thread.
func (t *Thread) checkPrimed() {
	state := &t.context.MachineState
	hasArg := state[InitialArgState] != 0
	switch {
	case state[FPState] != t.stack.High()-8:
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has a corrupt frame pointer", t.name)
	case state[StartupPCState] != enablePC:
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has a corrupt startup routine", t.name)
	case state[InitialPCState] != funcPC(t.fn):
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has a corrupt body", t.name)
	case hasArg != (t.arg != nil):
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has a corrupt argument slot", t.name)
	case state[WhenDonePCState] != finishPC:
		diag.Fatalf(diag.ErrContextSwitch, "thread %q has a corrupt when-done routine", t.name)
	}
}

// park blocks the calling goroutine until t holds the CPU again.
func (t *Thread) park() {
	select {
	case <-t.resume:
	case <-t.exit:
		runtime.Goexit()
	case <-t.kernel.halted:
		t.kernel.unwind(t)
	}
}

// root is the goroutine body of every started thread.
func (k *Kernel) root(t *Thread) {
	defer k.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(haltUnwind); ok {
				return
			}
			k.halt(asFault(r))
		}
	}()
	k.scheduler.CheckToBeDestroyed()
	if t.space != nil {
		t.RestoreUserState()
		t.space.RestoreState()
	}
	k.interrupt.Enable()
	t.fn(t.arg)
	t.Finish()
}

// unwind leaves the current goroutine after the machine halted.
func (k *Kernel) unwind(t *Thread) {
	if t.main {
		panic(haltUnwind{})
	}
	runtime.Goexit()
}

func asFault(r interface{}) *diag.Fault {
	if fault, ok := diag.AsFault(r); ok {
		return fault
	}
	return diag.NewFault(diag.ErrAssertion, "panic: %v", r)
}
