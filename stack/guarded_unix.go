//go:build unix

package stack

import (
	"golang.org/x/sys/unix"

	"github.com/viant/nachos/diag"
)

type guarded struct {
	pageSize int
}

// NewGuarded returns an allocator that maps each stack between two
// inaccessible guard pages. The usable region ends flush against the high
// guard; when size is not a page multiple, the slack below it is only
// covered by the fence.
func NewGuarded() Allocator {
	return &guarded{pageSize: unix.Getpagesize()}
}

// NewDefault returns the best allocator for the host.
func NewDefault() Allocator { return NewGuarded() }

func (g *guarded) Allocate(size int) *Block {
	diag.Assert(size > 0, "stack size %d", size)
	mapped := roundUp(size, g.pageSize)
	total := g.pageSize + mapped + g.pageSize
	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		diag.Fatalf(diag.ErrAllocation, "mmap %d bytes: %v", total, err)
	}
	if err = unix.Mprotect(region[:g.pageSize], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(region)
		diag.Fatalf(diag.ErrAllocation, "protect low guard: %v", err)
	}
	if err = unix.Mprotect(region[total-g.pageSize:], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(region)
		diag.Fatalf(diag.ErrAllocation, "protect high guard: %v", err)
	}
	top := g.pageSize + mapped
	return &Block{region: region, usable: region[top-size : top]}
}

func (g *guarded) Deallocate(block *Block) {
	if block == nil || block.region == nil {
		return
	}
	total := len(block.region)
	if err := unix.Mprotect(block.region[:g.pageSize], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		diag.Fatalf(diag.ErrAllocation, "unprotect low guard: %v", err)
	}
	if err := unix.Mprotect(block.region[total-g.pageSize:], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		diag.Fatalf(diag.ErrAllocation, "unprotect high guard: %v", err)
	}
	if err := unix.Munmap(block.region); err != nil {
		diag.Fatalf(diag.ErrAllocation, "munmap: %v", err)
	}
	block.region = nil
	block.usable = nil
}
