package userprog

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/noff"
	"github.com/viant/nachos/registry"
)

func program(codeSize int, order binary.ByteOrder) ([]byte, []byte) {
	code := make([]byte, codeSize)
	for i := range code {
		code[i] = byte(i % 251)
	}
	return code, noff.Assemble(code, nil, 0, order)
}

func TestNew_Layout(t *testing.T) {
	testCases := []struct {
		name  string
		order binary.ByteOrder
	}{
		{name: "little endian", order: binary.LittleEndian},
		{name: "byte swapped", order: binary.BigEndian},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := machine.New(machine.Config{})
			spaces := registry.New[*AddrSpace]()
			code, image := program(4096, tc.order)

			space, err := New(m, bytes.NewReader(image), WithRegistry(spaces))
			require.NoError(t, err)
			assert.Equal(t, 40, space.NumPages())
			assert.Equal(t, []*AddrSpace{space}, spaces.List())

			table := space.PageTable()
			require.Len(t, table, 40)
			assert.False(t, table[0].Valid, "page 0 catches null dereferences")
			for i := 1; i < len(table); i++ {
				assert.True(t, table[i].Valid)
				assert.Equal(t, i, table[i].VirtualPage)
				assert.Equal(t, i+1, table[i].PhysicalPage)
			}
			memory := m.PhysicalMemory()
			assert.Equal(t, code, memory[m.PageSize():m.PageSize()+len(code)])
			assert.True(t, table[1].Dirty)
			assert.False(t, table[39].Dirty)
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, tooBig := program(4096, binary.LittleEndian)
	_, fits := program(100, binary.LittleEndian)
	truncated := noff.Assemble(make([]byte, 512), nil, 0, binary.LittleEndian)[:noff.HeaderSize+100]
	negativeBss := noff.Encode(&noff.Header{Magic: noff.Magic, UninitData: noff.Segment{Size: -4096}}, binary.LittleEndian)
	negativeOffset := noff.Encode(&noff.Header{Magic: noff.Magic, Code: noff.Segment{InFileAddr: -1, Size: 16}}, binary.LittleEndian)
	outOfSpace := append(noff.Encode(&noff.Header{
		Magic: noff.Magic,
		Code:  noff.Segment{VirtualAddr: 100 * 128, InFileAddr: noff.HeaderSize, Size: 16},
	}, binary.LittleEndian), make([]byte, 16)...)

	testCases := []struct {
		name    string
		image   []byte
		pages   int
		options []Option
		expect  error
	}{
		{name: "bad magic", image: make([]byte, 64), pages: 128, expect: diag.ErrBadExecutable},
		{name: "short header", image: fits[:10], pages: 128, expect: diag.ErrShortIO},
		{name: "too big", image: tooBig, pages: 40, expect: diag.ErrNoMemory},
		{name: "truncated segment", image: truncated, pages: 128, expect: diag.ErrShortIO},
		{name: "negative segment size", image: negativeBss, pages: 128, expect: diag.ErrBadExecutable},
		{name: "negative file offset", image: negativeOffset, pages: 128, expect: diag.ErrBadExecutable},
		{
			name:    "empty space",
			image:   noff.Assemble(nil, nil, 0, binary.LittleEndian),
			pages:   128,
			options: []Option{WithUserStacksAreaSize(0)},
			expect:  diag.ErrBadExecutable,
		},
		{name: "segment outside space", image: outOfSpace, pages: 128, expect: diag.ErrAddressFault},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := machine.New(machine.Config{PageSize: 128, NumPhysPages: tc.pages})
			spaces := registry.New[*AddrSpace]()
			options := append([]Option{WithRegistry(spaces)}, tc.options...)
			space, err := New(m, bytes.NewReader(tc.image), options...)
			assert.Nil(t, space)
			assert.ErrorIs(t, err, tc.expect)
			_, ok := err.(*diag.Fault)
			assert.True(t, ok)
			assert.Equal(t, 0, spaces.Len())
			assert.Nil(t, m.PageTable())
		})
	}
}

func TestNew_ExactFit(t *testing.T) {
	// 39 pages of program and stack need 40 frames once frame 0 is skipped.
	code := make([]byte, 39*128-UserStacksAreaSize)
	image := noff.Assemble(code, nil, 0, binary.LittleEndian)
	_, err := New(machine.New(machine.Config{PageSize: 128, NumPhysPages: 40}), bytes.NewReader(image))
	assert.NoError(t, err)
	_, err = New(machine.New(machine.Config{PageSize: 128, NumPhysPages: 39}), bytes.NewReader(image))
	assert.ErrorIs(t, err, diag.ErrNoMemory)
}

func TestAddrSpace_Registers(t *testing.T) {
	m := machine.New(machine.Config{})
	_, image := program(4096, binary.LittleEndian)
	space, err := New(m, bytes.NewReader(image))
	require.NoError(t, err)

	m.WriteRegister(7, 42)
	space.InitRegisters()
	assert.EqualValues(t, 0, m.ReadRegister(7))
	assert.EqualValues(t, UserStartAddress, m.ReadRegister(machine.PCReg))
	assert.EqualValues(t, UserStartAddress+4, m.ReadRegister(machine.NextPCReg))
	assert.EqualValues(t, 40*128-16, m.ReadRegister(machine.StackReg))

	custom, err := New(m, bytes.NewReader(image), WithUserStartAddress(0x100), WithUserStacksAreaSize(2048))
	require.NoError(t, err)
	custom.InitRegisters()
	assert.EqualValues(t, 0x100, m.ReadRegister(machine.PCReg))
	assert.Equal(t, 48, custom.NumPages())
}

func TestAddrSpace_RestoreAndClose(t *testing.T) {
	m := machine.New(machine.Config{})
	spaces := registry.New[*AddrSpace]()
	_, image := program(256, binary.LittleEndian)

	previous := []machine.TranslationEntry{{VirtualPage: 0, PhysicalPage: 100, Valid: true}}
	m.SetPageTable(previous)
	space, err := Load(context.Background(), m, bytes.NewReader(image), WithRegistry(spaces))
	require.NoError(t, err)
	assert.Equal(t, previous, m.PageTable(), "loading must not leave its table installed")

	space.SaveState()
	space.RestoreState()
	assert.Len(t, m.PageTable(), space.NumPages())
	value, exception := m.ReadMem(128, 1)
	assert.Equal(t, machine.NoException, exception)
	assert.EqualValues(t, 128%251, value)
	_, exception = m.ReadMem(0, 1)
	assert.Equal(t, machine.PageFaultException, exception)

	var dump bytes.Buffer
	space.Dump(&dump)
	assert.Contains(t, dump.String(), "code")
	assert.Contains(t, dump.String(), "stack")
	assert.NotContains(t, dump.String(), "bss")

	require.NoError(t, space.Close())
	assert.Equal(t, 0, spaces.Len())
	assert.Nil(t, m.PageTable())
	assert.NoError(t, space.Close())
}
