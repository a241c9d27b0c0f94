package kernel

import (
	"fmt"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/internal/idgen"
	"github.com/viant/nachos/interrupt"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/stack"
	"github.com/viant/nachos/stats"
	"github.com/viant/nachos/tracing"
	"github.com/viant/nachos/userprog"
)

// Status is the scheduling state of a thread.
type Status int

const (
	JustCreated Status = iota
	Running
	Ready
	Blocked
)

var statusNames = [...]string{"just created", "running", "ready", "blocked"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Thread is a thread control block.
type Thread struct {
	context Context // must be first

	id        string
	name      string
	status    Status
	kernel    *Kernel
	stack     *stack.Block
	fn        func(arg interface{})
	arg       interface{}
	main      bool
	destroyed bool

	userRegisters [machine.NumTotalRegs]int32
	space         *userprog.AddrSpace

	resume chan struct{}
	exit   chan struct{}
	span   *tracing.Span
}

// NewThread creates a thread control block. The thread does not run until
// Start is called.
func (k *Kernel) NewThread(name string) *Thread {
	ret := &Thread{
		id:     idgen.New("thread"),
		name:   name,
		status: JustCreated,
		kernel: k,
		resume: make(chan struct{}, 1),
		exit:   make(chan struct{}),
	}
	diag.Check(k.threads.Register(ret.id, ret))
	k.stats.Update(stats.Delta{ThreadsCreated: 1})
	k.publish(event.ThreadCreated, ret, event.Transition{Status: ret.status.String()})
	return ret
}

// ID returns the registry key of the thread.
func (t *Thread) ID() string { return t.id }

// Name returns the debug name.
func (t *Thread) Name() string { return t.name }

// Status returns the scheduling state.
func (t *Thread) Status() Status { return t.status }

// Context returns a copy of the saved kernel context.
func (t *Thread) Context() Context { return t.context }

// Space returns the address space the thread runs in, if any.
func (t *Thread) Space() *userprog.AddrSpace { return t.space }

// SetSpace attaches an address space.
func (t *Thread) SetSpace(space *userprog.AddrSpace) { t.space = space }

func (t *Thread) String() string {
	return fmt.Sprintf("%s (%v)", t.name, t.status)
}

// Start allocates a stack, prepares the thread to run fn(arg) and puts it on
// the ready list.
func (t *Thread) Start(fn func(arg interface{}), arg interface{}) {
	k := t.kernel
	diag.Assert(t.status == JustCreated, "thread %q started twice", t.name)
	diag.Assert(fn != nil, "thread %q started without a body", t.name)
	diag.Debugf(diag.FlagThread, "forking thread %q", t.name)

	t.fn, t.arg = fn, arg
	t.stack = k.allocator.Allocate(k.config.StackSize)
	t.stack.SetFence()
	t.prime()
	_, t.span = tracing.StartSpan(k.ctx, "thread")
	t.span.SetString(map[string]string{"name": t.name, "id": t.id})

	old := k.interrupt.Disable()
	k.scheduler.ReadyToRun(t)
	k.publish(event.ThreadStarted, t, event.Transition{Status: t.status.String()})
	k.interrupt.SetLevel(old)
}

// CheckOverflow faults when the thread's stack fence was overwritten.
func (t *Thread) CheckOverflow() {
	if t.stack == nil {
		return
	}
	if !t.stack.FenceIntact() {
		diag.Fatalf(diag.ErrStackOverflow, "thread %q overran its stack", t.name)
	}
}

// Yield gives up the CPU if another thread is ready, putting the caller at
// the end of the ready list. It returns immediately otherwise.
func (t *Thread) Yield() {
	k := t.kernel
	old := k.interrupt.Disable()
	diag.Assert(t == k.current, "thread %q yielding while not running", t.name)
	diag.Debugf(diag.FlagThread, "yielding thread %q", t.name)
	if next := k.scheduler.FindNextToRun(); next != nil {
		k.scheduler.ReadyToRun(t)
		k.scheduler.Run(next, false)
	}
	k.interrupt.SetLevel(old)
}

// Sleep blocks the current thread until someone calls ReadyToRun on it.
// Interrupts must be off. While no thread is ready the machine idles,
// delivering pending interrupts. When nothing is pending either, a finishing
// thread (or a stopped scheduler) halts the machine; any other sleeper is a
// deadlock.
func (t *Thread) Sleep(finishing bool) {
	k := t.kernel
	diag.Assert(t == k.current, "thread %q sleeping while not running", t.name)
	diag.Assert(k.interrupt.Level() == interrupt.Off, "sleep with interrupts enabled")
	diag.Debugf(diag.FlagThread, "sleeping thread %q", t.name)

	t.status = Blocked
	next := k.scheduler.FindNextToRun()
	for next == nil {
		if !k.interrupt.Idle() {
			if finishing || k.scheduler.Stopped() {
				diag.Debugf(diag.FlagThread, "no threads ready or runnable, and no pending interrupts, assuming the program completed")
				k.Halt()
			}
			diag.Fatalf(diag.ErrDeadlock, "thread %q went to sleep", t.name)
		}
		next = k.scheduler.FindNextToRun()
	}
	k.scheduler.Run(next, finishing)
}

// Finish ends the thread. The thread is destroyed by its successor once the
// CPU has been handed over. Finish never returns.
func (t *Thread) Finish() {
	k := t.kernel
	k.interrupt.SetLevel(interrupt.Off)
	diag.Assert(t == k.current, "thread %q finishing while not running", t.name)
	diag.Debugf(diag.FlagThread, "finishing thread %q", t.name)
	k.stats.Update(stats.Delta{ThreadsFinished: 1})
	k.publish(event.ThreadFinished, t, event.Transition{Status: t.status.String()})
	tracing.EndSpan(t.span, nil)
	t.span = nil
	t.Sleep(true)
}

// Destroy releases the thread's resources. The running thread cannot be
// destroyed; a finished thread is reaped by the scheduler.
func (t *Thread) Destroy() {
	k := t.kernel
	if t.destroyed {
		diag.Fatalf(diag.ErrThreadLifetime, "thread %q destroyed twice", t.name)
	}
	if t == k.current || t.status == Running {
		diag.Fatalf(diag.ErrThreadLifetime, "thread %q destroyed while running", t.name)
	}
	if t.status == Ready {
		diag.Fatalf(diag.ErrThreadLifetime, "thread %q destroyed while on the ready list", t.name)
	}
	diag.Debugf(diag.FlagThread, "deleting thread %q", t.name)
	t.destroyed = true
	if t.stack != nil {
		k.allocator.Deallocate(t.stack)
		t.stack = nil
	}
	diag.Check(k.threads.Unregister(t.id))
	k.publish(event.ThreadDestroyed, t, event.Transition{Status: t.status.String()})
	if t.exit != nil {
		close(t.exit)
	}
}

// Destroyed reports whether Destroy was called.
func (t *Thread) Destroyed() bool { return t.destroyed }

// SaveUserState copies the machine's user registers into the thread.
func (t *Thread) SaveUserState() {
	t.userRegisters = t.kernel.machine.Registers()
}

// RestoreUserState loads the thread's user registers into the machine.
func (t *Thread) RestoreUserState() {
	t.kernel.machine.SetRegisters(t.userRegisters)
}
