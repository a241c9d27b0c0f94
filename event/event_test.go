package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nachos/messaging/memory"
)

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue[Event[Transition]](memory.DefaultConfig())
	publisher := NewPublisher[Transition](queue)

	require.NoError(t, publisher.Publish(ctx, NewEvent(&Context{EventType: ContextSwitch}, Transition{From: "main", To: "A"})))
	event, err := publisher.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, ContextSwitch, event.Context.EventType)
	assert.Equal(t, "A", event.Data.To)

	var nilPublisher *Publisher[Transition]
	assert.NoError(t, nilPublisher.Publish(ctx, event))
}

func TestListener(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue[Event[Transition]](memory.DefaultConfig())
	publisher := NewPublisher[Transition](queue)

	var received []Type
	listener := NewListener(publisher, func(event *Event[Transition]) {
		received = append(received, event.Context.EventType)
	})
	listener.Start()
	for _, eventType := range []Type{ThreadCreated, ThreadStarted, ThreadFinished, MachineHalted} {
		require.NoError(t, publisher.Publish(ctx, NewEvent(&Context{EventType: eventType}, Transition{})))
	}
	queue.Close()
	listener.Wait()
	assert.Equal(t, []Type{ThreadCreated, ThreadStarted, ThreadFinished, MachineHalted}, received)
}
