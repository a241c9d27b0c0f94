package kernel

import "github.com/viant/nachos/diag"

// Semaphore is a counting semaphore. P blocks while the value is zero;
// waiters are woken in FIFO order.
type Semaphore struct {
	kernel *Kernel
	name   string
	value  int
	queue  []*Thread
}

// NewSemaphore creates a semaphore with the given initial value.
func (k *Kernel) NewSemaphore(name string, initial int) *Semaphore {
	diag.Assert(initial >= 0, "semaphore %q initial value %d", name, initial)
	return &Semaphore{kernel: k, name: name, value: initial}
}

// Name returns the debug name.
func (s *Semaphore) Name() string { return s.name }

// Value returns the current value.
func (s *Semaphore) Value() int { return s.value }

// P waits until the value is positive, then decrements it.
func (s *Semaphore) P() {
	k := s.kernel
	old := k.interrupt.Disable()
	for s.value == 0 {
		s.queue = append(s.queue, k.current)
		k.current.Sleep(false)
	}
	s.value--
	k.interrupt.SetLevel(old)
}

// V increments the value, waking one waiter if any.
func (s *Semaphore) V() {
	k := s.kernel
	old := k.interrupt.Disable()
	if len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		k.scheduler.ReadyToRun(t)
	}
	s.value++
	k.interrupt.SetLevel(old)
}

// Lock is a mutual exclusion lock owned by the thread that acquired it.
type Lock struct {
	name   string
	sem    *Semaphore
	holder *Thread
}

// NewLock creates an unlocked lock.
func (k *Kernel) NewLock(name string) *Lock {
	return &Lock{name: name, sem: k.NewSemaphore(name, 1)}
}

// Acquire waits until the lock is free and takes it.
func (l *Lock) Acquire() {
	k := l.sem.kernel
	diag.Assert(!l.IsHeldByCurrentThread(), "lock %q acquired twice by %q", l.name, k.current.name)
	l.sem.P()
	l.holder = k.current
}

// Release frees the lock. Only the holder may release it.
func (l *Lock) Release() {
	diag.Assert(l.IsHeldByCurrentThread(), "lock %q released by a thread that does not hold it", l.name)
	l.holder = nil
	l.sem.V()
}

// IsHeldByCurrentThread reports whether the running thread holds the lock.
func (l *Lock) IsHeldByCurrentThread() bool {
	return l.holder != nil && l.holder == l.sem.kernel.current
}
