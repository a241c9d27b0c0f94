// Package userprog lays out user programs in simulated memory. An AddrSpace
// owns a page table mapping the program's virtual pages onto physical frames;
// the kernel installs it on the machine whenever a thread running in that
// space is switched in.
package userprog

import (
	"context"
	"fmt"
	"io"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/internal/idgen"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/noff"
	"github.com/viant/nachos/registry"
	"github.com/viant/nachos/tracing"
)

const (
	// UserStacksAreaSize is the default room reserved for user stacks.
	UserStacksAreaSize = 1024
	// UserStartAddress is the default initial program counter, the location
	// of the program's start routine.
	UserStartAddress = 0x80
)

// AddrSpace is the address space of one user program.
type AddrSpace struct {
	id             string
	machine        *machine.Machine
	header         *noff.Header
	numPages       int
	pageTable      []machine.TranslationEntry
	registry       *registry.Registry[*AddrSpace]
	stacksAreaSize int
	startAddress   int
}

// Load is New wrapped in a tracing span.
func Load(ctx context.Context, m *machine.Machine, executable io.ReaderAt, options ...Option) (*AddrSpace, error) {
	_, span := tracing.StartSpan(ctx, "userprog.load")
	ret, err := New(m, executable, options...)
	if err == nil {
		span.SetInt(map[string]int64{"pages": int64(ret.numPages)})
	}
	tracing.EndSpan(span, err)
	return ret, err
}

// New reads the executable's header, checks the program fits in physical
// memory, builds an identity-plus-one page table (virtual page i lives in
// frame i+1) and copies the code and initialized data in through that table.
// Virtual page 0 is left invalid to catch null dereferences. Errors are
// *diag.Fault values; a failed load has no side effects on the registry.
func New(m *machine.Machine, executable io.ReaderAt, options ...Option) (*AddrSpace, error) {
	ret := &AddrSpace{
		id:             idgen.New("space"),
		machine:        m,
		stacksAreaSize: UserStacksAreaSize,
		startAddress:   UserStartAddress,
	}
	for _, opt := range options {
		opt(ret)
	}
	header, err := noff.Read(executable)
	if err != nil {
		return nil, err
	}
	ret.header = header
	for _, segment := range header.Segments() {
		if segment.Size < 0 || segment.VirtualAddr < 0 || segment.InFileAddr < 0 {
			return nil, diag.NewFault(diag.ErrBadExecutable, "%v segment: vaddr %d, file offset %d, size %d",
				segment.Name, segment.VirtualAddr, segment.InFileAddr, segment.Size)
		}
	}

	pageSize := m.PageSize()
	size := int(header.Code.Size) + int(header.InitData.Size) + int(header.UninitData.Size) + ret.stacksAreaSize
	ret.numPages = (size + pageSize - 1) / pageSize
	if ret.numPages < 1 {
		return nil, diag.NewFault(diag.ErrBadExecutable, "empty address space")
	}
	if ret.numPages > m.NumPhysPages()-1 {
		return nil, diag.NewFault(diag.ErrNoMemory, "%d pages needed, %d available", ret.numPages, m.NumPhysPages()-1)
	}
	diag.Debugf(diag.FlagAddrSpace, "initializing address space, num pages %d, total size %#x", ret.numPages, ret.numPages*pageSize)

	ret.pageTable = make([]machine.TranslationEntry, ret.numPages)
	for i := range ret.pageTable {
		ret.pageTable[i] = machine.TranslationEntry{VirtualPage: i, PhysicalPage: i + 1, Valid: true}
	}
	for _, segment := range []noff.NamedSegment{{Name: "code", Segment: header.Code}, {Name: "data", Segment: header.InitData}} {
		if segment.Size <= 0 {
			continue
		}
		diag.Debugf(diag.FlagAddrSpace, "initializing %v segment, at %#x, size %#x", segment.Name, segment.VirtualAddr, segment.Size)
		if err = ret.copyIn(executable, segment.Segment); err != nil {
			return nil, err
		}
	}
	diag.Debugf(diag.FlagAddrSpace, "area for stacks at %#x, size %#x", ret.numPages*pageSize-ret.stacksAreaSize, ret.stacksAreaSize)
	ret.pageTable[0].Valid = false

	if ret.registry != nil {
		if err = ret.registry.Register(ret.id, ret); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// copyIn reads segment from the file and writes it byte by byte through this
// space's translation. The machine's current table is restored afterwards.
func (s *AddrSpace) copyIn(executable io.ReaderAt, segment noff.Segment) (err error) {
	buf := make([]byte, segment.Size)
	n, readErr := executable.ReadAt(buf, int64(segment.InFileAddr))
	if n < len(buf) {
		return diag.NewFault(diag.ErrShortIO, "segment at file offset %#x: read %d of %d bytes: %v", segment.InFileAddr, n, len(buf), readErr)
	}
	previous := s.machine.SetPageTable(s.pageTable)
	defer s.machine.SetPageTable(previous)
	defer func() {
		if r := recover(); r != nil {
			fault, ok := diag.AsFault(r)
			if !ok {
				panic(r)
			}
			err = fault
		}
	}()
	var memory machine.Memory = s.machine
	for i, value := range buf {
		memory.WriteMemory(int(segment.VirtualAddr)+i, value)
	}
	return nil
}

// ID returns the registry key of the space.
func (s *AddrSpace) ID() string { return s.id }

// NumPages returns the number of virtual pages.
func (s *AddrSpace) NumPages() int { return s.numPages }

// Header returns the decoded executable header.
func (s *AddrSpace) Header() *noff.Header { return s.header }

// PageTable returns a copy of the page table.
func (s *AddrSpace) PageTable() []machine.TranslationEntry {
	ret := make([]machine.TranslationEntry, len(s.pageTable))
	copy(ret, s.pageTable)
	return ret
}

// InitRegisters zeroes the user registers and points the program counter at
// the start routine and the stack pointer just below the end of the space.
func (s *AddrSpace) InitRegisters() {
	for i := 0; i < machine.NumTotalRegs; i++ {
		s.machine.WriteRegister(i, 0)
	}
	s.machine.WriteRegister(machine.PCReg, int32(s.startAddress))
	s.machine.WriteRegister(machine.NextPCReg, int32(s.startAddress+4))
	sp := s.numPages*s.machine.PageSize() - 16
	s.machine.WriteRegister(machine.StackReg, int32(sp))
	diag.Debugf(diag.FlagAddrSpace, "initializing stack register to %#x", sp)
}

// SaveState is called when a thread of this space is switched out. The
// page table lives in the space, so there is nothing to save.
func (s *AddrSpace) SaveState() {}

// RestoreState installs the page table on the machine.
func (s *AddrSpace) RestoreState() {
	s.machine.SetPageTable(s.pageTable)
}

// Close unregisters the space and releases its page table.
func (s *AddrSpace) Close() error {
	if s.pageTable == nil {
		return nil
	}
	if current := s.machine.PageTable(); len(current) > 0 && len(s.pageTable) > 0 && &current[0] == &s.pageTable[0] {
		s.machine.SetPageTable(nil)
	}
	s.pageTable = nil
	if s.registry != nil {
		return s.registry.Unregister(s.id)
	}
	return nil
}

// Dump writes the layout of the space: its segments, the stack area and the
// translation of every virtual page.
func (s *AddrSpace) Dump(w io.Writer) {
	pageSize := s.machine.PageSize()
	fmt.Fprintf(w, "address space %v: %d pages, %d bytes\n", s.id, s.numPages, s.numPages*pageSize)
	for _, segment := range s.header.Segments() {
		if segment.Size == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-5s vaddr %#06x size %#06x\n", segment.Name, segment.VirtualAddr, segment.Size)
	}
	fmt.Fprintf(w, "  %-5s vaddr %#06x size %#06x\n", "stack", s.numPages*pageSize-s.stacksAreaSize, s.stacksAreaSize)
	fmt.Fprintf(w, "  %4s %5s %5s %3s %5s %2s\n", "vpn", "frame", "valid", "use", "dirty", "ro")
	for _, entry := range s.pageTable {
		fmt.Fprintf(w, "  %4d %5d %5t %3t %5t %2t\n", entry.VirtualPage, entry.PhysicalPage, entry.Valid, entry.Use, entry.Dirty, entry.ReadOnly)
	}
}
