package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Fence(t *testing.T) {
	testCases := []struct {
		name      string
		allocator Allocator
		size      int
	}{
		{name: "default", allocator: NewDefault(), size: 8 * 1024},
		{name: "heap", allocator: NewHeap(), size: 1000},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			block := tc.allocator.Allocate(tc.size)
			require.NotNil(t, block)
			assert.GreaterOrEqual(t, block.Size(), tc.size)
			assert.Equal(t, block.Low()+uintptr(block.Size()), block.High())
			assert.False(t, block.FenceIntact())
			block.SetFence()
			assert.True(t, block.FenceIntact())

			block.PutWord(8, 0xfeed)
			assert.EqualValues(t, 0xfeed, block.Word(8))

			block.Bytes()[1] = 0
			assert.False(t, block.FenceIntact())
			tc.allocator.Deallocate(block)
			assert.Nil(t, block.Bytes())
		})
	}
}

func TestAllocator_SizeValidation(t *testing.T) {
	assert.Panics(t, func() { NewHeap().Allocate(0) })
}
