// Package stack allocates thread stacks. Each stack is a Block with a sentinel
// word written at its low end; an allocator may additionally surround the
// usable region with inaccessible guard pages so that running off either end
// faults immediately.
package stack

import (
	"encoding/binary"
	"unsafe"
)

// StackFencepost is written at the low end of every thread stack and checked
// at every context switch.
const StackFencepost uint32 = 0xdedbeef

// Allocator hands out and reclaims stack blocks.
type Allocator interface {
	Allocate(size int) *Block
	Deallocate(block *Block)
}

// Block is an allocated stack region.
type Block struct {
	region []byte // whole mapping, guards included
	usable []byte
}

// Bytes returns the usable region.
func (b *Block) Bytes() []byte { return b.usable }

// Size returns the usable size in bytes.
func (b *Block) Size() int { return len(b.usable) }

// Low returns the address of the first usable byte.
func (b *Block) Low() uintptr {
	if len(b.usable) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.usable[0]))
}

// High returns the address one past the last usable byte. Stacks grow down
// from here.
func (b *Block) High() uintptr {
	return b.Low() + uintptr(len(b.usable))
}

// SetFence writes the sentinel at the low end of the stack.
func (b *Block) SetFence() {
	binary.LittleEndian.PutUint32(b.usable, StackFencepost)
}

// FenceIntact reports whether the sentinel is still in place.
func (b *Block) FenceIntact() bool {
	if len(b.usable) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(b.usable) == StackFencepost
}

// PutWord stores a machine word at offset bytes below the top of the stack.
func (b *Block) PutWord(offset int, value uintptr) {
	binary.LittleEndian.PutUint64(b.usable[len(b.usable)-offset:], uint64(value))
}

// Word reads the machine word stored by PutWord.
func (b *Block) Word(offset int) uintptr {
	return uintptr(binary.LittleEndian.Uint64(b.usable[len(b.usable)-offset:]))
}

func roundUp(size, unit int) int {
	return (size + unit - 1) / unit * unit
}
