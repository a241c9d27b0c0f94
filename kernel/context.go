package kernel

import "unsafe"

// MachineStateSize is the number of saved kernel register slots.
const MachineStateSize = 32

// Context is the saved kernel execution state of a thread. It must stay the
// first field of Thread: the switch routine addresses it through the thread
// pointer.
type Context struct {
	StackTop     uintptr
	MachineState [MachineStateSize]uintptr
}

// Thread.context must sit at offset 0.
var _ = [1]struct{}{}[unsafe.Offsetof(Thread{}.context)]
