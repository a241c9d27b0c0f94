// Package interrupt simulates the interrupt controller of the single logical
// CPU. Disabling interrupts is the kernel's only mutual exclusion mechanism:
// Disable returns the prior level and SetLevel restores it, so nested critical
// sections compose. Simulated time advances whenever interrupts are
// re-enabled; pending device interrupts whose time has come are delivered at
// that point, and a handler that wants a context switch only asks for one via
// YieldOnReturn. The switch itself happens after the handlers return.
package interrupt

import (
	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/stats"
)

// Level is the interrupt enable state.
type Level int

const (
	Off Level = iota
	On
)

func (l Level) String() string {
	if l == On {
		return "on"
	}
	return "off"
}

// Status is what the CPU is doing when an interrupt fires.
type Status int

const (
	IdleMode Status = iota
	SystemMode
	UserMode
)

// Kind identifies the device that raised an interrupt.
type Kind int

const (
	TimerInt Kind = iota
	DiskInt
	ConsoleWriteInt
	ConsoleReadInt
	NetworkSendInt
	NetworkRecvInt
	SoftwareInt
)

var kindNames = [...]string{"timer", "disk", "console write", "console read", "network send", "network recv", "software"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

type pending struct {
	handler func()
	when    int64
	kind    Kind
}

// Controller is the simulated interrupt controller.
type Controller struct {
	level         Level
	status        Status
	pending       []*pending
	inHandler     bool
	yieldOnReturn bool
	stats         *stats.Statistics
	yield         func()
}

// New creates a controller with interrupts disabled, in system mode.
func New(statistics *stats.Statistics) *Controller {
	if statistics == nil {
		statistics = stats.New()
	}
	return &Controller{
		level:  Off,
		status: SystemMode,
		stats:  statistics,
	}
}

// SetYield registers the routine OneTick calls when a handler requested a
// yield. The kernel installs the running thread's Yield here.
func (c *Controller) SetYield(fn func()) { c.yield = fn }

// Stats returns the statistics the controller advances.
func (c *Controller) Stats() *stats.Statistics { return c.stats }

// Level returns the current interrupt level.
func (c *Controller) Level() Level { return c.level }

// Disable turns interrupts off and returns the prior level.
func (c *Controller) Disable() Level { return c.SetLevel(Off) }

// Enable turns interrupts on.
func (c *Controller) Enable() { c.SetLevel(On) }

// SetLevel changes the interrupt level and returns the prior one. Going from
// off to on advances simulated time and delivers due interrupts.
func (c *Controller) SetLevel(now Level) Level {
	old := c.level
	diag.Assert(now == Off || !c.inHandler, "interrupts enabled inside an interrupt handler")
	c.level = now
	if now == On && old == Off {
		c.OneTick()
	}
	return old
}

// Status returns the CPU mode.
func (c *Controller) Status() Status { return c.status }

// SetStatus changes the CPU mode.
func (c *Controller) SetStatus(status Status) { c.status = status }

// CurrentlyIdle reports whether the CPU is idling for lack of ready threads.
func (c *Controller) CurrentlyIdle() bool { return c.status == IdleMode }

// InHandler reports whether an interrupt handler is running.
func (c *Controller) InHandler() bool { return c.inHandler }

// Pending returns the number of scheduled interrupts.
func (c *Controller) Pending() int { return len(c.pending) }

// Schedule arranges for handler to be called fromNow ticks in the future.
func (c *Controller) Schedule(handler func(), fromNow int64, kind Kind) {
	diag.Assert(fromNow > 0, "interrupt scheduled %d ticks from now", fromNow)
	when := c.stats.Now() + fromNow
	diag.Debugf(diag.FlagInterrupt, "scheduling %v interrupt at time %d", kind, when)
	entry := &pending{handler: handler, when: when, kind: kind}
	index := len(c.pending)
	for i, candidate := range c.pending {
		if candidate.when > when {
			index = i
			break
		}
	}
	c.pending = append(c.pending, nil)
	copy(c.pending[index+1:], c.pending[index:])
	c.pending[index] = entry
}

// OneTick advances simulated time by one system or user tick, delivers any
// interrupts that became due, then performs the yield a handler asked for.
func (c *Controller) OneTick() {
	old := c.status
	if c.status == UserMode {
		c.stats.Update(stats.Delta{TotalTicks: stats.UserTick, UserTicks: stats.UserTick})
	} else {
		c.stats.Update(stats.Delta{TotalTicks: stats.SystemTick, SystemTicks: stats.SystemTick})
	}
	if c.level == Off {
		return
	}
	c.level = Off
	for c.checkIfDue(false) {
	}
	c.level = On
	if c.yieldOnReturn {
		c.yieldOnReturn = false
		c.status = SystemMode
		if c.yield != nil {
			c.yield()
		}
		c.status = old
	}
}

// YieldOnReturn is called by a handler to request a context switch once
// interrupt handling completes.
func (c *Controller) YieldOnReturn() {
	diag.Assert(c.inHandler, "yield on return requested outside an interrupt handler")
	c.yieldOnReturn = true
}

// Idle is called with interrupts off when no thread is ready. It advances
// simulated time to the next pending interrupt and delivers it. It returns
// false when nothing but timer interrupts is pending: no device can make a
// thread ready, so there is nothing left to wait for.
func (c *Controller) Idle() bool {
	diag.Assert(c.level == Off, "idle with interrupts enabled")
	c.status = IdleMode
	diag.Debugf(diag.FlagInterrupt, "machine idling, checking for interrupts")
	if !c.hasDevicePending() {
		c.status = SystemMode
		return false
	}
	if c.checkIfDue(true) {
		for c.checkIfDue(false) {
		}
	}
	c.yieldOnReturn = false
	c.status = SystemMode
	return true
}

func (c *Controller) hasDevicePending() bool {
	for _, candidate := range c.pending {
		if candidate.kind != TimerInt {
			return true
		}
	}
	return false
}

// checkIfDue delivers the earliest pending interrupt if it is due, or, when
// advanceClock is set, advances simulated time (as idle time) until it is.
func (c *Controller) checkIfDue(advanceClock bool) bool {
	diag.Assert(c.level == Off, "interrupt delivery with interrupts enabled")
	if len(c.pending) == 0 {
		return false
	}
	next := c.pending[0]
	now := c.stats.Now()
	if next.when > now {
		if !advanceClock {
			return false
		}
		c.stats.Update(stats.Delta{TotalTicks: next.when - now, IdleTicks: next.when - now})
	}
	c.pending = c.pending[1:]
	diag.Debugf(diag.FlagInterrupt, "invoking %v interrupt at time %d", next.kind, next.when)
	c.inHandler = true
	next.handler()
	c.inHandler = false
	return true
}
