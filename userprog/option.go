package userprog

import "github.com/viant/nachos/registry"

// Option customizes an AddrSpace.
type Option func(s *AddrSpace)

// WithRegistry registers the space in r once it is loaded.
func WithRegistry(r *registry.Registry[*AddrSpace]) Option {
	return func(s *AddrSpace) {
		s.registry = r
	}
}

// WithUserStacksAreaSize sets the room reserved above the program for user
// stacks.
func WithUserStacksAreaSize(size int) Option {
	return func(s *AddrSpace) {
		s.stacksAreaSize = size
	}
}

// WithUserStartAddress sets the initial program counter.
func WithUserStartAddress(addr int) Option {
	return func(s *AddrSpace) {
		s.startAddress = addr
	}
}
