package nachos

import (
	"io"

	"github.com/viant/afs"

	"github.com/viant/nachos/event"
	"github.com/viant/nachos/kernel"
	"github.com/viant/nachos/stack"
)

// Option customizes the Service.
type Option func(s *Service)

// WithConfig sets the configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithFileSystem sets the storage executables are opened from.
func WithFileSystem(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithOutput sets where machine statistics are printed when a run halts.
func WithOutput(w io.Writer) Option {
	return func(s *Service) {
		s.output = w
	}
}

// WithListener delivers kernel lifecycle events to handler.
func WithListener(handler func(*event.Event[event.Transition])) Option {
	return func(s *Service) {
		s.listener = handler
	}
}

// WithAllocator sets the thread stack allocator.
func WithAllocator(allocator stack.Allocator) Option {
	return func(s *Service) {
		s.allocator = allocator
	}
}

// WithKernelOptions passes additional options to every kernel the service
// creates.
func WithKernelOptions(options ...kernel.Option) Option {
	return func(s *Service) {
		s.kernelOptions = append(s.kernelOptions, options...)
	}
}
