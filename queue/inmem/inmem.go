// Package inmem implements an in-process work queue with lease semantics.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replyq/replyq/queue"
)

const (
	// DefaultVisibilityTimeout is how long a dequeued message stays
	// leased before it becomes deliverable again.
	DefaultVisibilityTimeout = 30 * time.Second

	// DefaultCapacity is the default queue depth.
	DefaultCapacity = 1024
)

type entryState int

const (
	stateQueued entryState = iota
	stateLeased
	stateAcked
	stateDead
)

type entry struct {
	envelope   []byte
	deliveries int
	state      entryState
	timer      *time.Timer
}

// InMem is an in-process work queue. Messages are leased to a single
// consumer at a time; a lease that is neither acknowledged nor
// dead-lettered within the visibility timeout is redelivered.
type InMem struct {
	mu         sync.Mutex
	ch         chan *entry
	dead       [][]byte
	closed     bool
	visibility time.Duration
}

// Option configures an InMem queue.
type Option func(*InMem)

// WithVisibilityTimeout sets the lease duration before redelivery.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *InMem) {
		q.visibility = d
	}
}

// WithCapacity sets the queue depth.
func WithCapacity(n int) Option {
	return func(q *InMem) {
		q.ch = make(chan *entry, n)
	}
}

// New creates a new in-process work queue.
func New(opts ...Option) *InMem {
	q := &InMem{
		ch:         make(chan *entry, DefaultCapacity),
		visibility: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue durably (for the life of the process) accepts envelope.
// A full or closed queue returns ErrQueueUnavailable.
func (q *InMem) Enqueue(_ context.Context, envelope []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: closed", queue.ErrQueueUnavailable)
	}
	q.mu.Unlock()

	e := &entry{envelope: envelope}
	select {
	case q.ch <- e:
		return nil
	default:
		return fmt.Errorf("%w: queue full", queue.ErrQueueUnavailable)
	}
}

// Dequeue blocks until a message is available or ctx is done.
func (q *InMem) Dequeue(ctx context.Context) (*queue.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case e := <-q.ch:
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		e.state = stateLeased
		e.deliveries++
		deliveries := e.deliveries
		e.timer = time.AfterFunc(q.visibility, func() { q.expire(e) })
		q.mu.Unlock()
		return &queue.Message{
			Envelope:      e.envelope,
			DeliveryCount: deliveries,
			Handle:        e,
		}, nil
	}
}

// expire returns a still-leased entry to the queue for redelivery.
func (q *InMem) expire(e *entry) {
	q.mu.Lock()
	if e.state != stateLeased || q.closed {
		q.mu.Unlock()
		return
	}
	e.state = stateQueued
	q.mu.Unlock()
	// blocking send: redelivery must not be dropped on a full queue.
	q.ch <- e
}

func (q *InMem) resolve(msg *queue.Message, to entryState) (*entry, error) {
	e, ok := msg.Handle.(*entry)
	if !ok || e == nil {
		return nil, fmt.Errorf("invalid message handle")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.state != stateLeased {
		return nil, fmt.Errorf("message lease no longer held")
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = to
	return e, nil
}

// Ack removes the leased message from the queue.
func (q *InMem) Ack(_ context.Context, msg *queue.Message) error {
	_, err := q.resolve(msg, stateAcked)
	return err
}

// DeadLetter moves the leased message to the dead-letter channel.
func (q *InMem) DeadLetter(_ context.Context, msg *queue.Message) error {
	e, err := q.resolve(msg, stateDead)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.dead = append(q.dead, e.envelope)
	q.mu.Unlock()
	return nil
}

// DeadLetters returns a copy of the dead-lettered envelopes for inspection.
func (q *InMem) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops the queue. Subsequent enqueues and dequeues fail; the
// channel itself is left open so in-flight redeliveries cannot panic.
func (q *InMem) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
