package stack

import "github.com/viant/nachos/diag"

type heap struct{}

// NewHeap returns an allocator backed by the Go heap. It has no guard pages;
// overflow is only caught by the fence check.
func NewHeap() Allocator { return heap{} }

func (heap) Allocate(size int) *Block {
	diag.Assert(size > 0, "stack size %d", size)
	region := make([]byte, roundUp(size, 8))
	return &Block{region: region, usable: region}
}

func (heap) Deallocate(block *Block) {
	if block == nil {
		return
	}
	block.region = nil
	block.usable = nil
}
