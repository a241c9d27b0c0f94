// Package kernel is the cooperative thread engine of the simulated machine:
// thread control blocks, the context switch, the FIFO scheduler and the
// synchronization primitives built on them.
//
// Every started thread runs on its own goroutine, but only the goroutine of
// the current thread executes; the others are parked in switchContext until
// the CPU is handed back to them. A Kernel is the single context object that
// owns the current thread, the scheduler, the interrupt controller, the
// machine and the debug registries.
package kernel

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/internal/idgen"
	"github.com/viant/nachos/interrupt"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/messaging/memory"
	"github.com/viant/nachos/registry"
	"github.com/viant/nachos/stack"
	"github.com/viant/nachos/stats"
	"github.com/viant/nachos/tracing"
	"github.com/viant/nachos/userprog"
)

// ErrAlreadyRun is returned when Run is called on a kernel that already ran.
var ErrAlreadyRun = errors.New("kernel: already run")

// Kernel is the simulated operating system kernel.
type Kernel struct {
	id        string
	config    Config
	machine   *machine.Machine
	interrupt *interrupt.Controller
	stats     *stats.Statistics
	scheduler *Scheduler
	allocator stack.Allocator
	timer     *interrupt.Timer
	threads   *registry.Registry[*Thread]
	spaces    *registry.Registry[*userprog.AddrSpace]

	publisher       *event.Publisher[event.Transition]
	listenerHandler func(*event.Event[event.Transition])
	closeEvents     func()
	output          io.Writer

	current *Thread
	main    *Thread
	ran     bool
	ctx     context.Context

	halted   chan struct{}
	haltOnce sync.Once
	haltErr  error
	wg       sync.WaitGroup
}

// New creates a kernel. The machine does not run until Run is called.
func New(options ...Option) *Kernel {
	ret := &Kernel{
		id:      idgen.New("kernel"),
		config:  DefaultConfig(),
		threads: registry.New[*Thread](),
		spaces:  registry.New[*userprog.AddrSpace](),
		ctx:     context.Background(),
		halted:  make(chan struct{}),
	}
	for _, opt := range options {
		opt(ret)
	}
	diag.Check(ret.config.Validate())
	if ret.stats == nil {
		ret.stats = stats.New()
	}
	if ret.machine == nil {
		ret.machine = machine.New(machine.DefaultConfig())
	}
	if ret.allocator == nil {
		ret.allocator = stack.NewDefault()
	}
	ret.interrupt = interrupt.New(ret.stats)
	ret.scheduler = newScheduler(ret)
	if timer := ret.config.Timer; timer.Enabled || timer.RandomSeed != 0 {
		ticks := timer.Ticks
		if ticks <= 0 {
			ticks = stats.TimerTicks
		}
		ret.timer = interrupt.NewTimer(ret.interrupt, ret.timerInterrupt, ticks, timer.RandomSeed)
	}
	return ret
}

// ID returns the kernel id carried by its events.
func (k *Kernel) ID() string { return k.id }

// Machine returns the simulated machine.
func (k *Kernel) Machine() *machine.Machine { return k.machine }

// Interrupt returns the interrupt controller.
func (k *Kernel) Interrupt() *interrupt.Controller { return k.interrupt }

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *Scheduler { return k.scheduler }

// Stats returns the machine counters.
func (k *Kernel) Stats() *stats.Statistics { return k.stats }

// CurrentThread returns the running thread.
func (k *Kernel) CurrentThread() *Thread { return k.current }

// Threads returns the live threads in creation order.
func (k *Kernel) Threads() []*Thread { return k.threads.List() }

// Spaces returns the live address spaces in creation order.
func (k *Kernel) Spaces() []*userprog.AddrSpace { return k.spaces.List() }

// Run adopts the calling goroutine as the "main" thread, runs fn in it, then
// finishes main. It returns once the machine halts: nil when the last thread
// finished or Halt was called, the fault when a kernel invariant was
// violated, or the context error when ctx ended first. No thread goroutine
// outlives Run.
func (k *Kernel) Run(ctx context.Context, fn func()) (err error) {
	if k.ran {
		return ErrAlreadyRun
	}
	k.ran = true
	ctx, span := tracing.StartSpan(ctx, "kernel.run")
	k.ctx = ctx
	listener := k.startListener()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(haltUnwind); !ok {
				k.halt(asFault(r))
			}
		}
		k.wg.Wait()
		k.cleanup()
		if listener != nil {
			k.closeEvents()
			listener.Wait()
		}
		err = k.haltErr
		snapshot := k.stats.Snapshot()
		span.SetInt(map[string]int64{"ticks": snapshot.TotalTicks, "switches": snapshot.ContextSwitches})
		tracing.EndSpan(span, err)
	}()

	k.main = k.adoptMain()
	k.interrupt.SetYield(k.yieldCurrent)
	if k.timer != nil {
		k.timer.Start()
	}
	k.interrupt.Enable()
	if fn != nil {
		fn()
	}
	k.main.Finish()
	return nil
}

// adoptMain turns the calling goroutine into a thread. It has no stack of
// its own and is never started.
func (k *Kernel) adoptMain() *Thread {
	ret := k.NewThread("main")
	ret.main = true
	ret.exit = nil
	ret.status = Running
	k.current = ret
	return ret
}

// Halt stops the machine. It never returns.
func (k *Kernel) Halt() {
	diag.Debugf(diag.FlagMachine, "machine halting")
	k.halt(nil)
	k.unwind(k.current)
}

// Stop stops dispatching: the current thread keeps the CPU until it sleeps
// or finishes, at which point the machine halts.
func (k *Kernel) Stop() {
	old := k.interrupt.Disable()
	k.scheduler.Stop()
	k.interrupt.SetLevel(old)
}

func (k *Kernel) halt(err error) {
	k.haltOnce.Do(func() {
		k.haltErr = err
		if k.timer != nil {
			k.timer.Stop()
		}
		transition := event.Transition{}
		if err != nil {
			transition.Error = err.Error()
		}
		k.publish(event.MachineHalted, k.current, transition)
		close(k.halted)
	})
}

// Halted reports whether the machine halted.
func (k *Kernel) Halted() bool {
	select {
	case <-k.halted:
		return true
	default:
		return false
	}
}

// cleanup releases what the halted machine still holds. All thread
// goroutines have exited.
func (k *Kernel) cleanup() {
	for _, t := range k.threads.List() {
		if t.stack != nil {
			k.allocator.Deallocate(t.stack)
			t.stack = nil
		}
		tracing.EndSpan(t.span, nil)
		t.span = nil
		_ = k.threads.Unregister(t.id)
	}
	k.scheduler.ready = nil
	k.scheduler.toBeDestroyed = nil
	if k.output != nil {
		k.stats.Print(k.output)
	}
}

func (k *Kernel) startListener() *event.Listener[event.Transition] {
	if k.listenerHandler == nil {
		return nil
	}
	queue := memory.NewQueue[event.Event[event.Transition]](memory.DefaultConfig())
	k.publisher = event.NewPublisher[event.Transition](queue)
	listener := event.NewListener(k.publisher, k.listenerHandler)
	listener.Start()
	k.closeEvents = queue.Close
	return listener
}

func (k *Kernel) publish(eventType event.Type, t *Thread, transition event.Transition) {
	if k.publisher == nil {
		return
	}
	eventContext := &event.Context{KernelID: k.id, EventType: eventType, Tick: k.stats.Now()}
	if t != nil {
		eventContext.ThreadID = t.id
		eventContext.ThreadName = t.name
	}
	if err := k.publisher.Publish(context.Background(), event.NewEvent(eventContext, transition)); err != nil {
		diag.Debugf(diag.FlagThread, "failed to publish %v event: %v", eventType, err)
	}
}

func (k *Kernel) yieldCurrent() {
	k.current.Yield()
}

// timerInterrupt makes the interrupted thread yield once the handler returns,
// as if it had called Yield itself. An idle machine has nobody to preempt.
func (k *Kernel) timerInterrupt() {
	if !k.interrupt.CurrentlyIdle() {
		k.interrupt.YieldOnReturn()
	}
}

// NewSpace loads executable into a new address space registered with the
// kernel. Load failures are faults: they halt the machine.
func (k *Kernel) NewSpace(executable io.ReaderAt, options ...userprog.Option) *userprog.AddrSpace {
	options = append([]userprog.Option{userprog.WithRegistry(k.spaces)}, options...)
	space, err := userprog.Load(k.ctx, k.machine, executable, options...)
	diag.Check(err)
	return space
}
