// Package nachos is an instructional operating system kernel running on a
// simulated machine. It provides cooperative kernel threads with a FIFO
// scheduler, a simulated interrupt controller and timer, and per-program
// address spaces loaded from NOFF executables.
//
// The root package exposes the Service facade:
//
//	srv, _ := nachos.New(nachos.WithConfig(config))
//	err := srv.Run(ctx, func(k *kernel.Kernel) {
//		k.NewThread("worker").Start(work, nil)
//	})
//
// Run returns when the last thread finishes, the machine is halted, or a
// kernel invariant is violated.
package nachos
