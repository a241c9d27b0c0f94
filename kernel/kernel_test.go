package kernel

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/machine"
	"github.com/viant/nachos/noff"
	"github.com/viant/nachos/tracing"
)

// assertInvariants checks that exactly one thread runs and that it is not
// on the ready list. It must be called by the running thread.
func assertInvariants(t *testing.T, k *Kernel) {
	running := 0
	for _, thread := range k.Threads() {
		if thread.Status() == Running {
			running++
			assert.Equal(t, k.CurrentThread(), thread)
		}
	}
	assert.Equal(t, 1, running)
	for _, thread := range k.Scheduler().Ready() {
		assert.NotEqual(t, k.CurrentThread(), thread)
		assert.Equal(t, Ready, thread.Status())
	}
}

func TestKernel_Run(t *testing.T) {
	testCases := []struct {
		name   string
		body   func(t *testing.T, k *Kernel, out *[]string)
		expect []string
	}{
		{
			name: "FIFO start order",
			body: func(t *testing.T, k *Kernel, out *[]string) {
				for _, name := range []string{"A", "B"} {
					k.NewThread(name).Start(func(arg interface{}) {
						assertInvariants(t, k)
						*out = append(*out, arg.(string))
					}, name)
				}
			},
			expect: []string{"A", "B"},
		},
		{
			name: "started by another thread",
			body: func(t *testing.T, k *Kernel, out *[]string) {
				k.NewThread("A").Start(func(interface{}) {
					k.NewThread("B").Start(func(interface{}) {
						*out = append(*out, "B")
					}, nil)
					*out = append(*out, "A")
				}, nil)
			},
			expect: []string{"A", "B"},
		},
		{
			name: "yield alternates",
			body: func(t *testing.T, k *Kernel, out *[]string) {
				for _, name := range []string{"A", "B"} {
					k.NewThread(name).Start(func(arg interface{}) {
						for i := 0; i < 3; i++ {
							*out = append(*out, fmt.Sprintf("%v%d", arg, i))
							k.CurrentThread().Yield()
							assertInvariants(t, k)
						}
					}, name)
				}
			},
			expect: []string{"A0", "B0", "A1", "B1", "A2", "B2"},
		},
		{
			name: "main yields",
			body: func(t *testing.T, k *Kernel, out *[]string) {
				k.NewThread("A").Start(func(interface{}) {
					*out = append(*out, "A")
				}, nil)
				k.CurrentThread().Yield()
				assertInvariants(t, k)
				*out = append(*out, "main")
			},
			expect: []string{"A", "main"},
		},
		{
			name: "yield alone returns",
			body: func(t *testing.T, k *Kernel, out *[]string) {
				k.CurrentThread().Yield()
				*out = append(*out, "main")
			},
			expect: []string{"main"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k := New()
			var out []string
			err := k.Run(context.Background(), func() { tc.body(t, k, &out) })
			require.NoError(t, err)
			assert.Equal(t, tc.expect, out)
			assert.True(t, k.Halted())
			assert.Empty(t, k.Threads())
		})
	}
}

func TestKernel_Faults(t *testing.T) {
	testCases := []struct {
		name   string
		body   func(k *Kernel)
		expect error
	}{
		{
			name: "sole thread sleeps",
			body: func(k *Kernel) {
				k.Interrupt().Disable()
				k.CurrentThread().Sleep(false)
			},
			expect: diag.ErrDeadlock,
		},
		{
			name: "all threads blocked",
			body: func(k *Kernel) {
				sem := k.NewSemaphore("never", 0)
				k.NewThread("A").Start(func(interface{}) { sem.P() }, nil)
				sem.P()
			},
			expect: diag.ErrDeadlock,
		},
		{
			name: "sleep with interrupts on",
			body: func(k *Kernel) {
				k.CurrentThread().Sleep(false)
			},
			expect: diag.ErrAssertion,
		},
		{
			name: "destroy running thread",
			body: func(k *Kernel) {
				k.CurrentThread().Destroy()
			},
			expect: diag.ErrThreadLifetime,
		},
		{
			name: "destroyed waiter readied",
			body: func(k *Kernel) {
				sem := k.NewSemaphore("wait", 0)
				waiter := k.NewThread("A")
				waiter.Start(func(interface{}) { sem.P() }, nil)
				k.CurrentThread().Yield()
				waiter.Destroy()
				sem.V()
				k.CurrentThread().Yield()
			},
			expect: diag.ErrThreadLifetime,
		},
		{
			name: "start twice",
			body: func(k *Kernel) {
				thread := k.NewThread("A")
				thread.Start(func(interface{}) {}, nil)
				thread.Start(func(interface{}) {}, nil)
			},
			expect: diag.ErrAssertion,
		},
		{
			name: "stack overflow",
			body: func(k *Kernel) {
				k.NewThread("A").Start(func(interface{}) {
					k.CurrentThread().stack.Bytes()[0] = 0
					k.CurrentThread().Yield()
				}, nil)
				k.NewThread("B").Start(func(interface{}) {}, nil)
			},
			expect: diag.ErrStackOverflow,
		},
		{
			name: "corrupt root frame",
			body: func(k *Kernel) {
				thread := k.NewThread("A")
				thread.Start(func(interface{}) {}, nil)
				thread.stack.PutWord(8, 0)
			},
			expect: diag.ErrContextSwitch,
		},
		{
			name: "corrupt startup slot",
			body: func(k *Kernel) {
				thread := k.NewThread("A")
				thread.Start(func(interface{}) {}, nil)
				thread.context.MachineState[StartupPCState] = finishPC
			},
			expect: diag.ErrContextSwitch,
		},
		{
			name: "corrupt when-done slot",
			body: func(k *Kernel) {
				thread := k.NewThread("A")
				thread.Start(func(interface{}) {}, "arg")
				thread.context.MachineState[WhenDonePCState] = 0
			},
			expect: diag.ErrContextSwitch,
		},
		{
			name: "plain panic",
			body: func(k *Kernel) {
				k.NewThread("A").Start(func(interface{}) { panic("boom") }, nil)
			},
			expect: diag.ErrAssertion,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k := New()
			err := k.Run(context.Background(), func() { tc.body(k) })
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expect)
			assert.Empty(t, k.Threads())
		})
	}
}

func TestKernel_DeferredDestruction(t *testing.T) {
	var events []string
	k := New(WithListener(func(e *event.Event[event.Transition]) {
		events = append(events, string(e.Context.EventType)+":"+e.Context.ThreadName)
	}))
	var destroyedBeforeSuccessor bool
	var a *Thread
	err := k.Run(context.Background(), func() {
		a = k.NewThread("A")
		a.Start(func(interface{}) {}, nil)
		k.NewThread("B").Start(func(interface{}) {
			destroyedBeforeSuccessor = a.Destroyed()
		}, nil)
	})
	require.NoError(t, err)
	assert.True(t, destroyedBeforeSuccessor, "the successor reaps the finished thread before its body runs")
	assert.Equal(t, []string{
		"created:main",
		"created:A", "started:A",
		"created:B", "started:B",
		"finished:main", "switch:A", "destroyed:main",
		"finished:A", "switch:B", "destroyed:A",
		"finished:B", "halted:B",
	}, events)
}

func TestKernel_Stats(t *testing.T) {
	var output bytes.Buffer
	k := New(WithOutput(&output))
	err := k.Run(context.Background(), func() {
		k.NewThread("A").Start(func(interface{}) {}, nil)
		k.NewThread("B").Start(func(interface{}) {}, nil)
	})
	require.NoError(t, err)
	snapshot := k.Stats().Snapshot()
	assert.EqualValues(t, 3, snapshot.ThreadsCreated)
	assert.EqualValues(t, 3, snapshot.ThreadsFinished)
	assert.EqualValues(t, 2, snapshot.ContextSwitches)
	assert.Greater(t, snapshot.TotalTicks, int64(0))
	assert.Contains(t, output.String(), "context switches 2")
	assert.ErrorIs(t, k.Run(context.Background(), nil), ErrAlreadyRun)
}

func TestKernel_Timer(t *testing.T) {
	testCases := []struct {
		name string
		seed int64
	}{
		{name: "periodic"},
		{name: "random", seed: 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Timer = TimerConfig{Enabled: true, Ticks: 100, RandomSeed: tc.seed}
			k := New(WithConfig(config))
			var out []string
			err := k.Run(context.Background(), func() {
				for _, name := range []string{"A", "B"} {
					k.NewThread(name).Start(func(arg interface{}) {
						for i := 0; i < 50; i++ {
							out = append(out, arg.(string))
							k.Interrupt().OneTick()
						}
					}, name)
				}
			})
			require.NoError(t, err)
			require.Len(t, out, 100)
			switches := 0
			for i := 1; i < len(out); i++ {
				if out[i] != out[i-1] {
					switches++
				}
			}
			assert.GreaterOrEqual(t, switches, 3, "timer interrupts must preempt running threads")
		})
	}
}

func TestKernel_Stop(t *testing.T) {
	k := New()
	var out []string
	err := k.Run(context.Background(), func() {
		k.NewThread("A").Start(func(interface{}) { out = append(out, "A") }, nil)
		k.Stop()
		assert.True(t, k.Scheduler().Stopped())
		var ready bytes.Buffer
		k.Scheduler().Print(&ready)
		assert.Equal(t, "Ready list contents: A\n", ready.String())
		k.CurrentThread().Yield()
		out = append(out, "main")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, out)
}

func TestKernel_Halt(t *testing.T) {
	k := New()
	var out []string
	err := k.Run(context.Background(), func() {
		k.NewThread("A").Start(func(interface{}) {
			out = append(out, "A")
			k.Halt()
			out = append(out, "unreachable")
		}, nil)
		k.NewThread("B").Start(func(interface{}) { out = append(out, "B") }, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, out)
}

func TestKernel_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := New()
	ran := false
	err := k.Run(ctx, func() {
		k.NewThread("A").Start(func(interface{}) { ran = true }, nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestThread_Context(t *testing.T) {
	assert.EqualValues(t, 0, unsafe.Offsetof(Thread{}.context))
	k := New()
	err := k.Run(context.Background(), func() {
		thread := k.NewThread("A")
		assert.Equal(t, JustCreated, thread.Status())
		thread.Start(func(interface{}) {}, "arg")
		assert.Equal(t, Ready, thread.Status())
		saved := thread.Context()
		assert.Equal(t, rootPC, saved.MachineState[PCState])
		assert.Equal(t, finishPC, saved.MachineState[WhenDonePCState])
		assert.Equal(t, enablePC, saved.MachineState[StartupPCState])
		assert.EqualValues(t, 1, saved.MachineState[InitialArgState])
		assert.Equal(t, thread.stack.High()-rootFrameSize, saved.StackTop)
		assert.Equal(t, "A (ready)", thread.String())
	})
	require.NoError(t, err)
}

func TestKernel_UserState(t *testing.T) {
	k := New()
	load := func(codeSize int) *Thread {
		image := noff.Assemble(make([]byte, codeSize), nil, 0, binary.LittleEndian)
		thread := k.NewThread(fmt.Sprintf("user%d", codeSize))
		thread.SetSpace(k.NewSpace(bytes.NewReader(image)))
		return thread
	}
	var seen []int32
	err := k.Run(context.Background(), func() {
		a, b := load(256), load(1024)
		assert.Len(t, k.Spaces(), 2)
		m := k.Machine()
		a.Start(func(interface{}) {
			assert.Len(t, m.PageTable(), a.Space().NumPages())
			a.Space().InitRegisters()
			m.WriteRegister(2, 111)
			k.CurrentThread().Yield()
			assert.Len(t, m.PageTable(), a.Space().NumPages())
			seen = append(seen, m.ReadRegister(2), m.ReadRegister(machine.PCReg))
		}, nil)
		b.Start(func(interface{}) {
			assert.Len(t, m.PageTable(), b.Space().NumPages())
			seen = append(seen, m.ReadRegister(2))
			m.WriteRegister(2, 222)
			k.CurrentThread().Yield()
			seen = append(seen, m.ReadRegister(2))
		}, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 111, 0x80, 222}, seen)
}

func TestKernel_BadExecutable(t *testing.T) {
	k := New()
	err := k.Run(context.Background(), func() {
		k.NewSpace(bytes.NewReader(make([]byte, noff.HeaderSize)))
	})
	assert.ErrorIs(t, err, diag.ErrBadExecutable)
	assert.Empty(t, k.Spaces())
}

func TestKernel_ThreadSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, tracing.InitWithExporter("nachos", "test", exporter))
	defer tracing.Shutdown(context.Background())

	k := New()
	err := k.Run(context.Background(), func() {
		k.NewThread("A").Start(func(interface{}) { k.CurrentThread().Yield() }, nil)
		k.NewThread("B").Start(func(interface{}) {}, nil)
	})
	require.NoError(t, err)

	dispatches := map[string][]string{}
	for _, span := range exporter.GetSpans() {
		if span.Name != "thread" {
			continue
		}
		var name string
		for _, attr := range span.Attributes {
			if attr.Key == attribute.Key("name") {
				name = attr.Value.AsString()
			}
		}
		for _, e := range span.Events {
			if e.Name != "dispatch" {
				continue
			}
			for _, attr := range e.Attributes {
				if attr.Key == attribute.Key("from") {
					dispatches[name] = append(dispatches[name], attr.Value.AsString())
				}
			}
		}
	}
	assert.Equal(t, map[string][]string{"A": {"main", "B"}, "B": {"A"}}, dispatches)
}
