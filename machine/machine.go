// Package machine simulates the parts of the host hardware the kernel core
// touches: physical memory, the user-level register file and the
// page-table-driven address translation installed by the running address
// space. It does not interpret user instructions.
package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/viant/nachos/diag"
)

// User register numbers (MIPS layout).
const (
	StackReg     = 29 // user stack pointer
	RetAddrReg   = 31 // holds return address for procedure calls
	NumGPRegs    = 32 // 32 general purpose registers
	HiReg        = 32 // double register to hold multiply result
	LoReg        = 33
	PCReg        = 34 // current program counter
	NextPCReg    = 35 // next program counter (for branch delay)
	PrevPCReg    = 36 // previous program counter (for debugging)
	LoadReg      = 37 // target register of the delayed load
	LoadValueReg = 38 // value to be loaded by a delayed load
	BadVAddrReg  = 39 // failed virtual address on an exception
	NumTotalRegs = 40
)

// Config describes the simulated memory geometry.
type Config struct {
	PageSize     int `json:"pageSize" yaml:"pageSize"`
	NumPhysPages int `json:"numPhysPages" yaml:"numPhysPages"`
}

// DefaultConfig returns the standard geometry: 128 frames of 128 bytes.
func DefaultConfig() Config {
	return Config{
		PageSize:     128,
		NumPhysPages: 128,
	}
}

// Validate returns an error describing invalid settings or nil.
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize%4 != 0 {
		return fmt.Errorf("machine.pageSize must be a positive multiple of 4, got %d", c.PageSize)
	}
	if c.NumPhysPages < 2 {
		return fmt.Errorf("machine.numPhysPages must be >= 2, got %d", c.NumPhysPages)
	}
	return nil
}

// Memory is the byte addressable view used to load program segments. Both
// calls go through the currently installed translation; a failed
// translation is fatal.
type Memory interface {
	ReadMemory(addr int) byte
	WriteMemory(addr int, value byte)
}

// Machine is the simulated host hardware.
type Machine struct {
	config     Config
	mainMemory []byte
	registers  [NumTotalRegs]int32
	pageTable  []TranslationEntry
}

var _ Memory = (*Machine)(nil)

// New creates a machine with zeroed memory and registers.
func New(config Config) *Machine {
	if config.PageSize == 0 && config.NumPhysPages == 0 {
		config = DefaultConfig()
	}
	diag.Check(config.Validate())
	return &Machine{
		config:     config,
		mainMemory: make([]byte, config.PageSize*config.NumPhysPages),
	}
}

// Config returns the machine geometry.
func (m *Machine) Config() Config { return m.config }

// PageSize returns the page (and frame) size in bytes.
func (m *Machine) PageSize() int { return m.config.PageSize }

// NumPhysPages returns the number of physical frames.
func (m *Machine) NumPhysPages() int { return m.config.NumPhysPages }

// MemorySize returns the physical memory size in bytes.
func (m *Machine) MemorySize() int { return len(m.mainMemory) }

// PhysicalMemory exposes main memory for dumps and tests.
func (m *Machine) PhysicalMemory() []byte { return m.mainMemory }

// ReadRegister returns the value of user register num.
func (m *Machine) ReadRegister(num int) int32 {
	diag.Assert(num >= 0 && num < NumTotalRegs, "register %d out of range", num)
	return m.registers[num]
}

// WriteRegister sets user register num.
func (m *Machine) WriteRegister(num int, value int32) {
	diag.Assert(num >= 0 && num < NumTotalRegs, "register %d out of range", num)
	m.registers[num] = value
}

// Registers returns a copy of the user register file.
func (m *Machine) Registers() [NumTotalRegs]int32 { return m.registers }

// SetRegisters replaces the user register file.
func (m *Machine) SetRegisters(registers [NumTotalRegs]int32) { m.registers = registers }

// PageTable returns the installed translation table. The slice is shared
// with its owner so that use and dirty bits land in the owner's entries.
func (m *Machine) PageTable() []TranslationEntry { return m.pageTable }

// SetPageTable installs table as the active translation context and returns
// the previously installed one.
func (m *Machine) SetPageTable(table []TranslationEntry) []TranslationEntry {
	prev := m.pageTable
	m.pageTable = table
	return prev
}

// ReadMem reads size (1, 2 or 4) bytes at virtual address addr.
func (m *Machine) ReadMem(addr, size int) (int32, ExceptionType) {
	physAddr, exception := m.Translate(addr, size, false)
	if exception != NoException {
		m.registers[BadVAddrReg] = int32(addr)
		return 0, exception
	}
	switch size {
	case 1:
		return int32(m.mainMemory[physAddr]), NoException
	case 2:
		return int32(binary.LittleEndian.Uint16(m.mainMemory[physAddr:])), NoException
	case 4:
		return int32(binary.LittleEndian.Uint32(m.mainMemory[physAddr:])), NoException
	}
	diag.Fatalf(diag.ErrAssertion, "unsupported read size %d", size)
	return 0, NoException
}

// WriteMem writes the low size (1, 2 or 4) bytes of value at virtual address addr.
func (m *Machine) WriteMem(addr, size int, value int32) ExceptionType {
	physAddr, exception := m.Translate(addr, size, true)
	if exception != NoException {
		m.registers[BadVAddrReg] = int32(addr)
		return exception
	}
	switch size {
	case 1:
		m.mainMemory[physAddr] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.mainMemory[physAddr:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(m.mainMemory[physAddr:], uint32(value))
	default:
		diag.Fatalf(diag.ErrAssertion, "unsupported write size %d", size)
	}
	return NoException
}

// ReadMemory reads one byte through the installed translation.
func (m *Machine) ReadMemory(addr int) byte {
	value, exception := m.ReadMem(addr, 1)
	if exception != NoException {
		diag.Fatalf(diag.ErrAddressFault, "read of virtual address 0x%x: %v", addr, exception)
	}
	return byte(value)
}

// WriteMemory writes one byte through the installed translation.
func (m *Machine) WriteMemory(addr int, value byte) {
	if exception := m.WriteMem(addr, 1, int32(value)); exception != NoException {
		diag.Fatalf(diag.ErrAddressFault, "write of virtual address 0x%x: %v", addr, exception)
	}
}
