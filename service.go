package nachos

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/viant/afs"

	"github.com/viant/nachos/diag"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/filesys"
	"github.com/viant/nachos/kernel"
	"github.com/viant/nachos/machine"
	fsqueue "github.com/viant/nachos/messaging/fs"
	"github.com/viant/nachos/registry"
	"github.com/viant/nachos/stack"
	"github.com/viant/nachos/tracing"
	"github.com/viant/nachos/userprog"
)

// Version is reported in trace resources.
const Version = "0.1.0"

// Service boots simulated machines.
type Service struct {
	config        *Config
	fs            afs.Service
	output        io.Writer
	listener      func(*event.Event[event.Transition])
	allocator     stack.Allocator
	kernelOptions []kernel.Option
	journal       *fsqueue.Queue[event.Event[event.Transition]]
}

// New creates a service. The configuration is validated, debug flags are
// applied and tracing is initialised when enabled.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	for _, opt := range options {
		opt(ret)
	}
	if ret.config == nil {
		ret.config = DefaultConfig()
	}
	if err := ret.config.Validate(); err != nil {
		return nil, err
	}
	if ret.fs == nil {
		ret.fs = afs.New()
	}
	if ret.config.Journal.URL != "" {
		journal, err := fsqueue.NewQueue[event.Event[event.Transition]](context.Background(), ret.fs, ret.config.Journal)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		ret.journal = journal
	}
	diag.DebugInit(ret.config.Debug)
	if ret.config.Tracing.Enabled {
		if err := tracing.Init("nachos", Version, ret.config.Tracing.Output); err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	return ret, nil
}

// Close flushes and closes the span output when tracing is enabled.
func (s *Service) Close(ctx context.Context) error {
	if !s.config.Tracing.Enabled {
		return nil
	}
	return tracing.Shutdown(ctx)
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// NewKernel creates a kernel on a fresh machine.
func (s *Service) NewKernel() *kernel.Kernel {
	options := []kernel.Option{
		kernel.WithConfig(s.config.kernelConfig()),
		kernel.WithMachine(machine.New(s.config.Machine)),
	}
	if s.allocator != nil {
		options = append(options, kernel.WithAllocator(s.allocator))
	}
	if s.output != nil {
		options = append(options, kernel.WithOutput(s.output))
	}
	if handler := s.eventHandler(); handler != nil {
		options = append(options, kernel.WithListener(handler))
	}
	options = append(options, s.kernelOptions...)
	return kernel.New(options...)
}

// Run boots a machine and runs fn as its main thread. See kernel.Kernel.Run.
func (s *Service) Run(ctx context.Context, fn func(k *kernel.Kernel)) error {
	k := s.NewKernel()
	err := k.Run(ctx, func() { fn(k) })
	if err != nil {
		log.Printf("machine %v halted: %v", k.ID(), err)
	}
	return err
}

// Exec loads the executable at URL into a new address space and starts a
// thread in it. The thread initialises the user registers and installs the
// page table, then calls run, if any. Exec must be called by a running
// thread; opening errors are returned, load faults halt the machine.
func (s *Service) Exec(ctx context.Context, k *kernel.Kernel, URL string, run func(t *kernel.Thread)) (*kernel.Thread, error) {
	executable, err := filesys.Open(ctx, s.fs, URL)
	if err != nil {
		return nil, err
	}
	space := k.NewSpace(executable, s.spaceOptions()...)
	thread := k.NewThread(path.Base(URL))
	thread.SetSpace(space)
	thread.Start(func(interface{}) {
		space.InitRegisters()
		space.RestoreState()
		if run != nil {
			run(thread)
		}
	}, nil)
	return thread, nil
}

// Dump loads the executable at URL on a scratch machine and writes its
// address space layout to w.
func (s *Service) Dump(ctx context.Context, URL string, w io.Writer) error {
	executable, err := filesys.Open(ctx, s.fs, URL)
	if err != nil {
		return err
	}
	spaces := registry.New[*userprog.AddrSpace]()
	options := append(s.spaceOptions(), userprog.WithRegistry(spaces))
	space, err := userprog.Load(ctx, machine.New(s.config.Machine), executable, options...)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", URL, err)
	}
	defer space.Close()
	space.Dump(w)
	return nil
}

// eventHandler combines the configured listener with the journal.
func (s *Service) eventHandler() func(*event.Event[event.Transition]) {
	if s.journal == nil {
		return s.listener
	}
	return func(e *event.Event[event.Transition]) {
		if err := s.journal.Publish(context.Background(), e); err != nil {
			log.Printf("failed to journal %v event: %v", e.Context.EventType, err)
		}
		if s.listener != nil {
			s.listener(e)
		}
	}
}

// Journal consumes the journaled events that have not been read yet, oldest
// first. It returns nil when no journal is configured.
func (s *Service) Journal(ctx context.Context) ([]*event.Event[event.Transition], error) {
	if s.journal == nil {
		return nil, nil
	}
	var ret []*event.Event[event.Transition]
	for {
		message, err := s.journal.Consume(ctx)
		if err != nil {
			return ret, err
		}
		if message == nil {
			return ret, nil
		}
		ret = append(ret, message.T())
		if err = message.Ack(); err != nil {
			return ret, err
		}
	}
}

func (s *Service) spaceOptions() []userprog.Option {
	return []userprog.Option{
		userprog.WithUserStacksAreaSize(s.config.UserProg.StacksAreaSize),
		userprog.WithUserStartAddress(s.config.UserProg.StartAddress),
	}
}
