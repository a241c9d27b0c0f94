// Package fs provides a durable messaging.Queue on top of afs. Each message is
// a JSON file that moves between pending, processing, completed, failed and
// dlq directories under the queue URL.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"github.com/viant/nachos/internal/clock"
	"github.com/viant/nachos/internal/idgen"
	"github.com/viant/nachos/messaging"
)

// State is the lifecycle stage of a stored message.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dlq"
)

// Message is the stored form of a queued payload.
type Message[T any] struct {
	ID        string    `json:"id"`
	Data      T         `json:"data"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Retries   int       `json:"retries"`

	name      string
	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack moves the message to the completed directory.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = StateCompleted
	m.UpdatedAt = clock.Now()
	return m.queue.settle(context.Background(), m)
}

// Nack moves the message to the failed directory for another delivery, or
// to the dlq once MaxRetries is exceeded.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = StateFailed
	if err != nil {
		m.Error = err.Error()
	}
	m.Retries++
	if m.Retries > m.queue.config.MaxRetries {
		m.State = StateDead
	}
	m.UpdatedAt = clock.Now()
	return m.queue.settle(context.Background(), m)
}

// Config for the filesystem queue.
type Config struct {
	// URL is the queue base location, e.g. file:///tmp/nachos/journal or mem://localhost/journal.
	URL        string `json:"url" yaml:"url"`
	MaxRetries int    `json:"maxRetries" yaml:"maxRetries"`
}

// Queue implements messaging.Queue over afs storage. Consume does not wait:
// it returns a nil message when nothing is pending.
type Queue[T any] struct {
	fs     afs.Service
	config Config
	mu     sync.Mutex
	seq    int
}

// NewQueue creates the queue directories when missing.
func NewQueue[T any](ctx context.Context, fs afs.Service, config Config) (*Queue[T], error) {
	if config.URL == "" {
		return nil, fmt.Errorf("queue URL was empty")
	}
	if fs == nil {
		fs = afs.New()
	}
	ret := &Queue[T]{fs: fs, config: config}
	for _, state := range []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead} {
		dir := ret.dir(state)
		if exists, _ := fs.Exists(ctx, dir); exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return ret, nil
}

// Publish stores a pending message. Messages are consumed in publish order.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := clock.Now()
	q.mu.Lock()
	q.seq++
	name := fmt.Sprintf("%019d-%06d.json", now.UnixNano(), q.seq)
	q.mu.Unlock()
	message := &Message[T]{
		ID:        idgen.New(""),
		Data:      *t,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return q.write(ctx, url.Join(q.dir(StatePending), name), message)
}

// Consume claims the oldest failed message due for retry, otherwise the
// oldest pending one. It returns nil, nil when the queue is empty.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, state := range []State{StateFailed, StatePending} {
		message, err := q.claim(ctx, state)
		if err != nil || message != nil {
			return message, err
		}
	}
	return nil, nil
}

// Size returns the number of messages in state.
func (q *Queue[T]) Size(ctx context.Context, state State) (int, error) {
	objects, err := q.list(ctx, q.dir(state))
	return len(objects), err
}

func (q *Queue[T]) claim(ctx context.Context, state State) (messaging.Message[T], error) {
	objects, err := q.list(ctx, q.dir(state))
	if err != nil || len(objects) == 0 {
		return nil, err
	}
	object := objects[0]
	message, err := q.read(ctx, object.URL())
	if err != nil {
		_ = q.fs.Move(ctx, object.URL(), url.Join(q.dir(StateDead), "invalid-"+object.Name()))
		return nil, err
	}
	message.name = object.Name()
	message.queue = q
	message.State = StateProcessing
	message.UpdatedAt = clock.Now()
	if err = q.write(ctx, url.Join(q.dir(StateProcessing), message.name), message); err != nil {
		return nil, err
	}
	if err = q.fs.Delete(ctx, object.URL()); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", object.URL(), err)
	}
	return message, nil
}

// settle writes m to the directory of its state and removes the processing copy.
func (q *Queue[T]) settle(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.write(ctx, url.Join(q.dir(m.State), m.name), m); err != nil {
		return err
	}
	processing := url.Join(q.dir(StateProcessing), m.name)
	if exists, _ := q.fs.Exists(ctx, processing); exists {
		if err := q.fs.Delete(ctx, processing); err != nil {
			return fmt.Errorf("failed to delete %s: %w", processing, err)
		}
	}
	return nil
}

func (q *Queue[T]) dir(state State) string {
	return url.Join(q.config.URL, string(state))
}

func (q *Queue[T]) list(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var ret []storage.Object
	for _, object := range objects {
		if !object.IsDir() && strings.HasSuffix(object.Name(), ".json") {
			ret = append(ret, object)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name() < ret[j].Name() })
	return ret, nil
}

func (q *Queue[T]) write(ctx context.Context, URL string, message *Message[T]) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", message.ID, err)
	}
	if err = q.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", URL, err)
	}
	return nil
}

func (q *Queue[T]) read(ctx context.Context, URL string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", URL, err)
	}
	ret := &Message[T]{}
	if err = json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", URL, err)
	}
	return ret, nil
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
