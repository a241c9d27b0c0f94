// Package stats keeps the simulated machine's counters: how much simulated
// time elapsed, how it was spent, and how many context switches the scheduler
// performed. The interrupt controller advances time; the scheduler counts
// switches. Counters are only changed through Update so a single observer
// callback sees every change.
package stats

import (
	"fmt"
	"io"
	"sync"
)

// Simulated time units.
const (
	UserTick   = 1   // advance for each user-level instruction
	SystemTick = 10  // advance each time interrupts are re-enabled
	TimerTicks = 100 // default interval between timer interrupts
)

// Delta represents an incremental counter change.
type Delta struct {
	TotalTicks      int64
	IdleTicks       int64
	SystemTicks     int64
	UserTicks       int64
	ContextSwitches int64
	ThreadsCreated  int64
	ThreadsFinished int64
}

// Statistics holds the aggregated counters. It is safe for concurrent use.
type Statistics struct {
	TotalTicks      int64
	IdleTicks       int64
	SystemTicks     int64
	UserTicks       int64
	ContextSwitches int64
	ThreadsCreated  int64
	ThreadsFinished int64

	mu       sync.Mutex
	onChange func(Snapshot)
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	TotalTicks      int64
	IdleTicks       int64
	SystemTicks     int64
	UserTicks       int64
	ContextSwitches int64
	ThreadsCreated  int64
	ThreadsFinished int64
}

// New creates empty statistics.
func New() *Statistics {
	return &Statistics{}
}

// Update applies d. The onChange callback, if any, is invoked outside the
// critical section with the updated values.
func (s *Statistics) Update(d Delta) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.TotalTicks += d.TotalTicks
	s.IdleTicks += d.IdleTicks
	s.SystemTicks += d.SystemTicks
	s.UserTicks += d.UserTicks
	s.ContextSwitches += d.ContextSwitches
	s.ThreadsCreated += d.ThreadsCreated
	s.ThreadsFinished += d.ThreadsFinished
	snapshot := s.snapshot()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

// Now returns the current simulated time.
func (s *Statistics) Now() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalTicks
}

// Snapshot returns a copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Statistics) snapshot() Snapshot {
	return Snapshot{
		TotalTicks:      s.TotalTicks,
		IdleTicks:       s.IdleTicks,
		SystemTicks:     s.SystemTicks,
		UserTicks:       s.UserTicks,
		ContextSwitches: s.ContextSwitches,
		ThreadsCreated:  s.ThreadsCreated,
		ThreadsFinished: s.ThreadsFinished,
	}
}

// OnChange registers a callback invoked after every Update. Passing nil
// disables it.
func (s *Statistics) OnChange(cb func(Snapshot)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.onChange = cb
	s.mu.Unlock()
}

// Print writes the summary printed when the machine halts.
func (s *Statistics) Print(w io.Writer) {
	snap := s.Snapshot()
	fmt.Fprintf(w, "Ticks: total %d, idle %d, system %d, user %d\n",
		snap.TotalTicks, snap.IdleTicks, snap.SystemTicks, snap.UserTicks)
	fmt.Fprintf(w, "Threads: created %d, finished %d, context switches %d\n",
		snap.ThreadsCreated, snap.ThreadsFinished, snap.ContextSwitches)
}
