// Package diag is the kernel's fail-fast diagnostic facility. Every invariant
// violation in the thread engine or the address-space loader is raised as a
// *Fault panic; the kernel run loop is the single place that recovers it,
// halts the simulated machine and reports it as an error.
package diag

import (
	"errors"
	"fmt"
)

// Fault kinds. Use errors.Is against a returned fault to classify it.
var (
	ErrAssertion      = errors.New("assertion failed")
	ErrBadExecutable  = errors.New("not a nachos binary")
	ErrNoMemory       = errors.New("address space exceeds physical memory")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrContextSwitch  = errors.New("context switch invariant violated")
	ErrShortIO        = errors.New("short read/write")
	ErrDeadlock       = errors.New("deadlock: no threads ready or runnable, and no pending interrupts")
	ErrAllocation     = errors.New("allocation failed")
	ErrAddressFault   = errors.New("address translation failed")
	ErrThreadLifetime = errors.New("thread lifecycle violated")
)

// Fault is an unrecoverable kernel condition.
type Fault struct {
	Kind error
	Msg  string
}

func (f *Fault) Error() string {
	if f.Msg == "" {
		return f.Kind.Error()
	}
	return f.Kind.Error() + ": " + f.Msg
}

func (f *Fault) Unwrap() error { return f.Kind }

// NewFault builds a fault without raising it, for constructors that return
// errors to callers which then decide to Check them.
func NewFault(kind error, format string, args ...interface{}) *Fault {
	if kind == nil {
		kind = ErrAssertion
	}
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Fatalf raises a fault of the given kind. It never returns.
func Fatalf(kind error, format string, args ...interface{}) {
	panic(NewFault(kind, format, args...))
}

// Assert raises an ErrAssertion fault when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(NewFault(ErrAssertion, format, args...))
	}
}

// Check raises err as a fault when it is non nil. Plain errors are wrapped as
// assertion faults so that the halt path only ever sees *Fault values.
func Check(err error) {
	if err == nil {
		return
	}
	var fault *Fault
	if errors.As(err, &fault) {
		panic(fault)
	}
	panic(&Fault{Kind: ErrAssertion, Msg: err.Error()})
}

// AsFault converts a recovered panic value into a fault. Non fault values are
// reported as false so the caller can decide whether to re-panic.
func AsFault(v interface{}) (*Fault, bool) {
	switch actual := v.(type) {
	case *Fault:
		return actual, true
	case error:
		var fault *Fault
		if errors.As(actual, &fault) {
			return fault, true
		}
	}
	return nil, false
}
