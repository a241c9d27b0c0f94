package machine

import "fmt"

// ExceptionType identifies why a translation or memory access failed.
type ExceptionType int

const (
	NoException ExceptionType = iota
	SyscallException
	PageFaultException    // no valid translation found
	ReadOnlyException     // write attempted to page marked read-only
	BusErrorException     // translation resulted in an invalid physical address
	AddressErrorException // unaligned reference or one past the end of the address space
	OverflowException
	IllegalInstrException
)

var exceptionNames = [...]string{
	"no exception", "syscall", "page fault", "page read only",
	"bus error", "address error", "overflow", "illegal instruction",
}

func (e ExceptionType) String() string {
	if e < 0 || int(e) >= len(exceptionNames) {
		return fmt.Sprintf("exception(%d)", int(e))
	}
	return exceptionNames[e]
}

// TranslationEntry maps one virtual page to a physical frame.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool // if false, the entry is ignored
	Use          bool // set by hardware on every reference
	Dirty        bool // set by hardware on every write
	ReadOnly     bool // writes raise ReadOnlyException
}

// Translate converts virtAddr to a physical address using the installed page
// table, checking alignment, bounds, validity and protection. Use and dirty
// bits are updated on success.
func (m *Machine) Translate(virtAddr, size int, writing bool) (int, ExceptionType) {
	if (size == 4 && virtAddr&0x3 != 0) || (size == 2 && virtAddr&0x1 != 0) {
		return 0, AddressErrorException
	}
	if virtAddr < 0 || m.pageTable == nil {
		return 0, AddressErrorException
	}
	pageSize := m.config.PageSize
	vpn := virtAddr / pageSize
	offset := virtAddr % pageSize
	if vpn >= len(m.pageTable) {
		return 0, AddressErrorException
	}
	entry := &m.pageTable[vpn]
	if !entry.Valid {
		return 0, PageFaultException
	}
	if entry.ReadOnly && writing {
		return 0, ReadOnlyException
	}
	frame := entry.PhysicalPage
	if frame < 0 || frame >= m.config.NumPhysPages {
		return 0, BusErrorException
	}
	entry.Use = true
	if writing {
		entry.Dirty = true
	}
	return frame*pageSize + offset, NoException
}
