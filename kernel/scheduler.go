package kernel

import (
	"fmt"
	"io"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/interrupt"
	"github.com/viant/nachos/stats"
)

// Scheduler dispatches threads from a FIFO ready list. All methods assume
// interrupts are disabled; that is the only mutual exclusion there is.
type Scheduler struct {
	kernel        *Kernel
	ready         []*Thread
	toBeDestroyed *Thread
	stopped       bool
}

func newScheduler(k *Kernel) *Scheduler {
	return &Scheduler{kernel: k}
}

// ReadyToRun marks t ready and appends it to the ready list.
func (s *Scheduler) ReadyToRun(t *Thread) {
	diag.Assert(s.kernel.interrupt.Level() == interrupt.Off, "ready list changed with interrupts enabled")
	if t.destroyed {
		diag.Fatalf(diag.ErrThreadLifetime, "thread %q readied after it was destroyed", t.name)
	}
	for _, candidate := range s.ready {
		if candidate == t {
			diag.Fatalf(diag.ErrContextSwitch, "thread %q is already on the ready list", t.name)
		}
	}
	diag.Debugf(diag.FlagThread, "putting thread %q on ready list", t.name)
	t.status = Ready
	s.ready = append(s.ready, t)
}

// FindNextToRun removes and returns the head of the ready list. It returns
// nil when the list is empty or the scheduler is stopped.
func (s *Scheduler) FindNextToRun() *Thread {
	diag.Assert(s.kernel.interrupt.Level() == interrupt.Off, "ready list read with interrupts enabled")
	if s.stopped || len(s.ready) == 0 {
		return nil
	}
	next := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	return next
}

// Run dispatches next, which must have come from FindNextToRun. When
// finishing is set the current thread is parked in the to-be-destroyed slot
// and reaped by whichever thread runs after it. Run returns when the current
// thread is switched back in.
func (s *Scheduler) Run(next *Thread, finishing bool) {
	k := s.kernel
	old := k.current
	diag.Assert(k.interrupt.Level() == interrupt.Off, "dispatch with interrupts enabled")

	if finishing {
		if s.toBeDestroyed != nil {
			diag.Fatalf(diag.ErrThreadLifetime, "thread %q finishing while %q awaits destruction", old.name, s.toBeDestroyed.name)
		}
		s.toBeDestroyed = old
	}
	if old.space != nil {
		old.SaveUserState()
		old.space.SaveState()
	}
	old.CheckOverflow()
	if next.destroyed {
		diag.Fatalf(diag.ErrThreadLifetime, "dispatching destroyed thread %q", next.name)
	}
	if next.status != Ready {
		diag.Fatalf(diag.ErrContextSwitch, "dispatching thread %q in state %v", next.name, next.status)
	}
	if err := k.ctx.Err(); err != nil {
		k.halt(err)
		k.unwind(old)
	}

	k.current = next
	next.status = Running
	k.stats.Update(stats.Delta{ContextSwitches: 1})
	k.publish(event.ContextSwitch, next, event.Transition{From: old.name, To: next.name, Status: next.status.String()})
	next.span.Event("dispatch", map[string]string{"from": old.name})
	diag.Debugf(diag.FlagThread, "switching from thread %q to thread %q", old.name, next.name)

	k.switchContext(old, next)

	diag.Debugf(diag.FlagThread, "now in thread %q", k.current.name)
	s.CheckToBeDestroyed()
	if old.space != nil {
		old.RestoreUserState()
		old.space.RestoreState()
	}
}

// CheckToBeDestroyed destroys the thread that finished before the current one
// was switched in.
func (s *Scheduler) CheckToBeDestroyed() {
	if s.toBeDestroyed == nil {
		return
	}
	t := s.toBeDestroyed
	s.toBeDestroyed = nil
	t.Destroy()
}

// Stop makes FindNextToRun report an empty list from now on. The current
// thread keeps running; the machine halts the next time it has to sleep.
func (s *Scheduler) Stop() { s.stopped = true }

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool { return s.stopped }

// Ready returns a snapshot of the ready list.
func (s *Scheduler) Ready() []*Thread {
	ret := make([]*Thread, len(s.ready))
	copy(ret, s.ready)
	return ret
}

// Print writes the ready list.
func (s *Scheduler) Print(w io.Writer) {
	fmt.Fprint(w, "Ready list contents:")
	for _, t := range s.ready {
		fmt.Fprintf(w, " %v", t.name)
	}
	fmt.Fprintln(w)
}
