// Command nachos boots the simulated machine.
//
// Without -x it runs the thread test: two threads that yield to each other.
// With -x it loads a NOFF executable in a user thread and prints the layout
// of its address space and its initial registers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/viant/nachos"
	"github.com/viant/nachos/event"
	"github.com/viant/nachos/kernel"
	"github.com/viant/nachos/machine"
)

func main() {
	if err := run(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run() error {
	debug := flag.String("d", "", "debug flags, + enables all")
	seed := flag.Int64("rs", 0, "seed for random timer interrupts (enables time slicing)")
	executable := flag.String("x", "", "URL of a NOFF executable to load")
	configURL := flag.String("config", "", "URL of a YAML config")
	traceFile := flag.String("trace", "", "write OpenTelemetry spans to this file")
	events := flag.Bool("events", false, "log kernel lifecycle events")
	journal := flag.String("journal", "", "URL where lifecycle events are journaled")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	config := nachos.DefaultConfig()
	if *configURL != "" {
		loaded, err := nachos.LoadConfig(ctx, nil, *configURL)
		if err != nil {
			return err
		}
		config = loaded
	}
	if *debug != "" {
		config.Debug = *debug
	}
	if *seed != 0 {
		config.Timer.RandomSeed = *seed
		config.Timer.Enabled = true
	}
	if *journal != "" {
		config.Journal.URL = *journal
	}
	if *traceFile != "" {
		config.Tracing = nachos.TracingConfig{Enabled: true, Output: *traceFile}
	}

	options := []nachos.Option{nachos.WithConfig(config), nachos.WithOutput(os.Stdout)}
	if *events {
		options = append(options, nachos.WithListener(func(e *event.Event[event.Transition]) {
			log.Printf("tick %d: %v %v %+v", e.Context.Tick, e.Context.EventType, e.Context.ThreadName, e.Data)
		}))
	}
	srv, err := nachos.New(options...)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := srv.Close(context.Background()); cErr != nil {
			log.Printf("failed to close trace output: %v", cErr)
		}
	}()

	return srv.Run(ctx, func(k *kernel.Kernel) {
		if *executable != "" {
			if _, err := srv.Exec(ctx, k, *executable, dumpUserThread(k)); err != nil {
				log.Printf("exec %v: %v", *executable, err)
			}
			return
		}
		threadTest(k)
	})
}

func dumpUserThread(k *kernel.Kernel) func(t *kernel.Thread) {
	return func(t *kernel.Thread) {
		t.Space().Dump(os.Stdout)
		m := k.Machine()
		fmt.Printf("pc %#x next pc %#x sp %#x\n",
			m.ReadRegister(machine.PCReg), m.ReadRegister(machine.NextPCReg), m.ReadRegister(machine.StackReg))
	}
}

func threadTest(k *kernel.Kernel) {
	simpleThread := func(arg interface{}) {
		for i := 0; i < 10; i++ {
			fmt.Printf("*** thread %v looped %d times\n", arg, i)
			k.CurrentThread().Yield()
		}
	}
	k.NewThread("forked thread").Start(simpleThread, 1)
	simpleThread(0)
}
