// Package noff decodes the header of NOFF executables: a magic word followed
// by the code, initialized data and uninitialized data segment descriptors.
// Files are written little-endian; a header whose magic reads byte-swapped is
// decoded with every field swapped.
package noff

import (
	"encoding/binary"
	"io"
	"math/bits"

	"github.com/viant/nachos/diag"
)

// Magic identifies a NOFF file.
const Magic uint32 = 0xbadfad

// HeaderSize is the encoded size of a Header.
const HeaderSize = 4 + 3*segmentSize

const segmentSize = 12

// Segment describes where a segment lives in the file and in the address space.
type Segment struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// Header is the decoded NOFF header.
type Header struct {
	Magic      uint32
	Code       Segment
	InitData   Segment
	UninitData Segment
	// Swapped reports that the file was written in the other byte order.
	Swapped bool
}

// Segments returns the three segments with their display names.
func (h *Header) Segments() []NamedSegment {
	return []NamedSegment{
		{Name: "code", Segment: h.Code},
		{Name: "data", Segment: h.InitData},
		{Name: "bss", Segment: h.UninitData},
	}
}

// NamedSegment pairs a segment with its name.
type NamedSegment struct {
	Name string
	Segment
}

// Read reads and decodes the header at offset 0. A short read and a bad magic
// are returned as *diag.Fault errors.
func Read(executable io.ReaderAt) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := executable.ReadAt(buf, 0)
	if n < HeaderSize {
		return nil, diag.NewFault(diag.ErrShortIO, "noff header: read %d of %d bytes: %v", n, HeaderSize, err)
	}
	return Decode(buf)
}

// Decode decodes an encoded header.
func Decode(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, diag.NewFault(diag.ErrShortIO, "noff header: %d of %d bytes", len(data), HeaderSize)
	}
	var order binary.ByteOrder = binary.LittleEndian
	magic := order.Uint32(data)
	swapped := false
	if magic != Magic && bits.ReverseBytes32(magic) == Magic {
		order = binary.BigEndian
		swapped = true
		magic = Magic
	}
	if magic != Magic {
		return nil, diag.NewFault(diag.ErrBadExecutable, "magic %#x", magic)
	}
	ret := &Header{Magic: magic, Swapped: swapped}
	ret.Code = decodeSegment(order, data[4:])
	ret.InitData = decodeSegment(order, data[4+segmentSize:])
	ret.UninitData = decodeSegment(order, data[4+2*segmentSize:])
	return ret, nil
}

// Encode writes the header in the given byte order.
func Encode(header *Header, order binary.ByteOrder) []byte {
	ret := make([]byte, HeaderSize)
	order.PutUint32(ret, header.Magic)
	encodeSegment(order, ret[4:], header.Code)
	encodeSegment(order, ret[4+segmentSize:], header.InitData)
	encodeSegment(order, ret[4+2*segmentSize:], header.UninitData)
	return ret
}

func decodeSegment(order binary.ByteOrder, data []byte) Segment {
	return Segment{
		VirtualAddr: int32(order.Uint32(data)),
		InFileAddr:  int32(order.Uint32(data[4:])),
		Size:        int32(order.Uint32(data[8:])),
	}
}

func encodeSegment(order binary.ByteOrder, data []byte, segment Segment) {
	order.PutUint32(data, uint32(segment.VirtualAddr))
	order.PutUint32(data[4:], uint32(segment.InFileAddr))
	order.PutUint32(data[8:], uint32(segment.Size))
}

// Assemble builds an executable image: the header followed by the code and
// initialized data. Code is placed at virtual address 0, data right after it
// and the uninitialized segment after the data.
func Assemble(code, data []byte, uninitSize int32, order binary.ByteOrder) []byte {
	header := &Header{
		Magic: Magic,
		Code:  Segment{VirtualAddr: 0, InFileAddr: HeaderSize, Size: int32(len(code))},
		InitData: Segment{
			VirtualAddr: int32(len(code)),
			InFileAddr:  int32(HeaderSize + len(code)),
			Size:        int32(len(data)),
		},
		UninitData: Segment{VirtualAddr: int32(len(code) + len(data)), Size: uninitSize},
	}
	ret := Encode(header, order)
	ret = append(ret, code...)
	return append(ret, data...)
}
