//go:build !unix

package stack

// NewDefault returns the best allocator for the host.
func NewDefault() Allocator { return NewHeap() }
