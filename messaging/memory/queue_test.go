package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/nachos/messaging"
)

type TestPayload struct {
	ID    string
	Count int
}

func TestQueue(t *testing.T) {
	queue := NewQueue[TestPayload](DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		require.NoError(t, queue.Publish(ctx, &TestPayload{ID: "p", Count: i}))
	}
	assert.Equal(t, 500, queue.Size(), "publish must not block on an unbounded queue")

	for i := 0; i < 500; i++ {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, message.T().Count)
		assert.NoError(t, message.Ack())
		assert.Error(t, message.Ack())
	}
	assert.Equal(t, 0, queue.Size())
}

func TestQueueRetries(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 2
	queue := NewQueue[TestPayload](config)
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, &TestPayload{ID: "retry"}))

	for attempt := 0; attempt < 3; attempt++ {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, "retry", message.T().ID)
		assert.NoError(t, message.Nack(errors.New("failed")))
	}
	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, 1, queue.DLQSize())
}

func TestQueueConsumeWaits(t *testing.T) {
	queue := NewQueue[TestPayload](DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	received := make([]int, 0)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			message, err := queue.Consume(ctx)
			if err != nil {
				assert.ErrorIs(t, err, messaging.ErrClosed)
				return
			}
			received = append(received, message.T().Count)
			_ = message.Ack()
		}
	}()
	for i := 0; i < 10; i++ {
		require.NoError(t, queue.Publish(ctx, &TestPayload{Count: i}))
	}
	queue.Close()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, received)
	assert.ErrorIs(t, queue.Publish(ctx, &TestPayload{}), messaging.ErrClosed)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := NewQueue[TestPayload](DefaultConfig()).Consume(timeoutCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
