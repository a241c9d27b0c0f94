// Package event carries the kernel's lifecycle stream: thread creation,
// start, context switches, completion, destruction and machine halt.
package event

import (
	"time"

	"github.com/viant/nachos/internal/clock"
)

// Type names a lifecycle transition.
type Type string

const (
	ThreadCreated   Type = "created"
	ThreadStarted   Type = "started"
	ContextSwitch   Type = "switch"
	ThreadFinished  Type = "finished"
	ThreadDestroyed Type = "destroyed"
	MachineHalted   Type = "halted"
)

// Context identifies where and when an event happened.
type Context struct {
	KernelID   string `json:"kernelID"`
	ThreadID   string `json:"threadID,omitempty"`
	ThreadName string `json:"threadName,omitempty"`
	EventType  Type   `json:"eventType"`
	Tick       int64  `json:"tick"`
}

// Transition is the payload of a scheduling event.
type Transition struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Event[T any] struct {
	Context   *Context  `json:"context"`
	CreatedAt time.Time `json:"createdAt"`
	Data      T         `json:"data"`
}

func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Data:      data,
	}
}
