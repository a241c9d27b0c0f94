package diag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssert(t *testing.T) {
	assert.NotPanics(t, func() { Assert(true, "never") })

	defer func() {
		fault, ok := AsFault(recover())
		assert.True(t, ok)
		assert.ErrorIs(t, fault, ErrAssertion)
		assert.Equal(t, "assertion failed: expected 4 bytes, got 2", fault.Error())
	}()
	Assert(false, "expected %d bytes, got %d", 4, 2)
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		expect error
	}{
		{name: "nil", err: nil},
		{name: "fault", err: NewFault(ErrBadExecutable, "magic 0x1"), expect: ErrBadExecutable},
		{name: "wrapped fault", err: fmt.Errorf("loading: %w", NewFault(ErrShortIO, "read 3")), expect: ErrShortIO},
		{name: "plain error", err: errors.New("boom"), expect: ErrAssertion},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.expect == nil {
				assert.NotPanics(t, func() { Check(tc.err) })
				return
			}
			var recovered interface{}
			func() {
				defer func() { recovered = recover() }()
				Check(tc.err)
			}()
			fault, ok := AsFault(recovered)
			assert.True(t, ok)
			assert.ErrorIs(t, fault, tc.expect)
		})
	}
}

func TestAsFault(t *testing.T) {
	_, ok := AsFault("not a fault")
	assert.False(t, ok)
	_, ok = AsFault(errors.New("plain"))
	assert.False(t, ok)
	fault, ok := AsFault(fmt.Errorf("ctx: %w", NewFault(ErrDeadlock, "")))
	assert.True(t, ok)
	assert.Equal(t, ErrDeadlock.Error(), fault.Error())
}

func TestDebugFlags(t *testing.T) {
	defer DebugInit("")
	DebugInit("ta")
	assert.True(t, IsEnabled(FlagThread))
	assert.True(t, IsEnabled(FlagAddrSpace))
	assert.False(t, IsEnabled(FlagInterrupt))
	DebugInit("+")
	assert.True(t, IsEnabled(FlagInterrupt))
	DebugInit("")
	assert.False(t, IsEnabled(FlagThread))
}
