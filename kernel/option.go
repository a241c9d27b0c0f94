package kernel

import (
	"io"

	"github.com/viant/nachos/event"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/stack"
	"github.com/viant/nachos/stats"
)

// Option customizes a Kernel.
type Option func(k *Kernel)

// WithConfig sets the kernel configuration.
func WithConfig(config Config) Option {
	return func(k *Kernel) {
		k.config = config
	}
}

// WithMachine sets the simulated machine.
func WithMachine(m *machine.Machine) Option {
	return func(k *Kernel) {
		k.machine = m
	}
}

// WithAllocator sets the stack allocator.
func WithAllocator(allocator stack.Allocator) Option {
	return func(k *Kernel) {
		k.allocator = allocator
	}
}

// WithStatistics sets the counters the kernel updates.
func WithStatistics(statistics *stats.Statistics) Option {
	return func(k *Kernel) {
		k.stats = statistics
	}
}

// WithPublisher sends lifecycle events to publisher.
func WithPublisher(publisher *event.Publisher[event.Transition]) Option {
	return func(k *Kernel) {
		k.publisher = publisher
	}
}

// WithListener delivers lifecycle events to handler. Every event published
// during Run has been handled by the time Run returns.
func WithListener(handler func(*event.Event[event.Transition])) Option {
	return func(k *Kernel) {
		k.listenerHandler = handler
	}
}

// WithOutput sets where the statistics are printed at halt.
func WithOutput(w io.Writer) Option {
	return func(k *Kernel) {
		k.output = w
	}
}
