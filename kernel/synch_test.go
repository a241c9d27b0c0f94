package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nachos/diag"
)

func TestSemaphore_PingPong(t *testing.T) {
	k := New()
	var out []string
	err := k.Run(context.Background(), func() {
		ping := k.NewSemaphore("ping", 0)
		pong := k.NewSemaphore("pong", 0)
		k.NewThread("A").Start(func(interface{}) {
			for i := 0; i < 3; i++ {
				ping.P()
				out = append(out, "A")
				pong.V()
			}
		}, nil)
		k.NewThread("B").Start(func(interface{}) {
			for i := 0; i < 3; i++ {
				out = append(out, "B")
				ping.V()
				pong.P()
			}
			assert.Equal(t, 0, ping.Value())
			assert.Equal(t, 0, pong.Value())
		}, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "B", "A", "B", "A"}, out)
}

func TestLock(t *testing.T) {
	k := New()
	var out []string
	err := k.Run(context.Background(), func() {
		lock := k.NewLock("critical")
		for _, name := range []string{"A", "B"} {
			k.NewThread(name).Start(func(arg interface{}) {
				lock.Acquire()
				assert.True(t, lock.IsHeldByCurrentThread())
				out = append(out, arg.(string)+" in")
				k.CurrentThread().Yield()
				out = append(out, arg.(string)+" out")
				lock.Release()
				assert.False(t, lock.IsHeldByCurrentThread())
			}, name)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A in", "A out", "B in", "B out"}, out)
}

func TestLock_ReleaseByNonHolder(t *testing.T) {
	k := New()
	err := k.Run(context.Background(), func() {
		k.NewLock("critical").Release()
	})
	assert.ErrorIs(t, err, diag.ErrAssertion)
}
