// Package queue defines types and interfaces for work queue backends.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrQueueUnavailable is returned when an enqueue cannot be durably accepted.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrClosed is returned from operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Message is a leased work item dequeued from a queue.
// The message stays on the queue until acknowledged or dead-lettered;
// an expired lease makes it deliverable again.
type Message struct {
	// Envelope is the raw envelope bytes as enqueued.
	Envelope []byte

	// DeliveryCount is how many times this message has been delivered,
	// including this delivery. Backends that cannot track deliveries
	// report 1.
	DeliveryCount int

	// Handle identifies the lease for Ack and DeadLetter.
	// Opaque to callers.
	Handle interface{}
}

// Enqueuer accepts envelopes for at-least-once delivery to workers.
type Enqueuer interface {
	// Enqueue durably accepts the envelope. A nil return means the
	// envelope will be delivered at least once.
	Enqueue(ctx context.Context, envelope []byte) error
}

// Dequeuer leases envelopes to workers.
type Dequeuer interface {
	// Dequeue blocks until a message is available, the context is
	// cancelled, or the queue is closed.
	Dequeue(ctx context.Context) (*Message, error)

	// Ack removes the message from the queue. Called only after the
	// processing outcome has been durably recorded.
	Ack(ctx context.Context, msg *Message) error

	// DeadLetter moves the message to the dead-letter channel for
	// manual inspection instead of further redelivery.
	DeadLetter(ctx context.Context, msg *Message) error
}

// Queue is a complete work queue backend.
type Queue interface {
	Enqueuer
	Dequeuer
}
