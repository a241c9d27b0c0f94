package interrupt

import "math/rand"

// Timer is the hardware timer device. It raises a timer interrupt every
// ticks units of simulated time, or after a pseudo random delay in
// [1, 2*ticks] when created with a non zero seed.
type Timer struct {
	controller *Controller
	handler    func()
	ticks      int64
	random     *rand.Rand
	stopped    bool
}

// NewTimer creates a stopped timer.
func NewTimer(controller *Controller, handler func(), ticks int64, seed int64) *Timer {
	ret := &Timer{controller: controller, handler: handler, ticks: ticks}
	if seed != 0 {
		ret.random = rand.New(rand.NewSource(seed))
	}
	return ret
}

// Start schedules the first timer interrupt.
func (t *Timer) Start() {
	t.stopped = false
	t.controller.Schedule(t.expired, t.next(), TimerInt)
}

// Stop prevents further timer interrupts from calling the handler.
func (t *Timer) Stop() { t.stopped = true }

// Randomized reports whether the interval is random.
func (t *Timer) Randomized() bool { return t.random != nil }

func (t *Timer) next() int64 {
	if t.random == nil {
		return t.ticks
	}
	return 1 + t.random.Int63n(2*t.ticks)
}

func (t *Timer) expired() {
	if t.stopped {
		return
	}
	t.controller.Schedule(t.expired, t.next(), TimerInt)
	if t.handler != nil {
		t.handler()
	}
}
