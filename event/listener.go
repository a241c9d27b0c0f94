package event

import (
	"context"
	"errors"
	"log"

	"github.com/viant/nachos/messaging"
)

// Listener delivers published events to a handler on its own goroutine.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		done:      make(chan struct{}),
	}
}

func (l *Listener[T]) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go func() {
		defer close(l.done)
		for {
			event, err := l.publisher.Consume(ctx)
			if err != nil {
				if errors.Is(err, messaging.ErrClosed) || ctx.Err() != nil {
					return
				}
				log.Printf("Error consuming event: %v", err)
				continue
			}
			l.handler(event)
		}
	}()
}

// Stop abandons undelivered events and waits for the handler goroutine.
func (l *Listener[T]) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Wait blocks until the underlying queue is closed and drained.
func (l *Listener[T]) Wait() {
	<-l.done
}
