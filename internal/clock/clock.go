// Package clock provides the host wall clock used to stamp lifecycle events.
// Simulated time lives in package stats; this clock is only for humans reading
// event streams.
package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Since returns the host time elapsed since t.
func Since(t time.Time) time.Duration { return NowFunc().Sub(t) }
