// Package accept implements asynchronous request acceptance.
package accept

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replyq/replyq/envelope"
	"github.com/replyq/replyq/queue"
	"github.com/replyq/replyq/utils/uuid"
)

// ValidationError is a business-rule rejection raised before any side
// effect. The request is never enqueued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ErrEmptyPayload is the default validator's rejection.
var ErrEmptyPayload = errors.New("empty payload")

// Validator checks a raw payload against business rules.
// A non-nil error rejects the request before acceptance.
type Validator func(payload []byte) error

// DefaultValidator rejects empty payloads.
func DefaultValidator(payload []byte) error {
	if len(payload) == 0 {
		return &ValidationError{Reason: ErrEmptyPayload.Error()}
	}
	return nil
}

// DefaultRetryAfter is the suggested first-poll delay when the caller
// supplies no duration estimate.
const DefaultRetryAfter = 30 * time.Second

// Request is an inbound unit of work.
type Request struct {
	// Payload is the opaque caller-supplied body.
	Payload []byte

	// ObjectType is the object type path segment of the accept endpoint.
	ObjectType string

	// Estimate is an optional caller hint of the processing duration,
	// used to compute the first-poll delay.
	Estimate time.Duration
}

// Accepted is the response to a successfully accepted request.
type Accepted struct {
	// OperationID is the freshly assigned operation identity.
	OperationID string `json:"operation_id"`

	// Location is the stable status URL for the operation.
	Location string `json:"location"`

	// RetryAfter is the suggested delay before the first status poll.
	RetryAfter time.Duration `json:"-"`
}

// Acceptor validates requests, assigns operation identity, and enqueues
// work. Acceptors are stateless; any number may run concurrently.
type Acceptor struct {
	enqueuer queue.Enqueuer
	ider     uuid.IDer
	validate Validator

	baseURL    string
	retryAfter time.Duration

	now func() time.Time
}

// Option configures an Acceptor.
type Option func(*Acceptor)

// WithValidator sets the business-rule validator.
func WithValidator(v Validator) Option {
	return func(a *Acceptor) {
		a.validate = v
	}
}

// WithIDer sets the operation ID generator.
func WithIDer(ider uuid.IDer) Option {
	return func(a *Acceptor) {
		a.ider = ider
	}
}

// WithRetryAfter sets the default first-poll delay.
func WithRetryAfter(d time.Duration) Option {
	return func(a *Acceptor) {
		a.retryAfter = d
	}
}

// New creates a new Acceptor. Status locations are derived from baseURL
// at acceptance time so they are deterministic and testable.
func New(enqueuer queue.Enqueuer, baseURL string, opts ...Option) *Acceptor {
	a := &Acceptor{
		enqueuer:   enqueuer,
		ider:       uuid.NewUUID(),
		validate:   DefaultValidator,
		baseURL:    baseURL,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accept validates req and, if valid, assigns it an operation ID,
// enqueues its envelope, and returns the acceptance.
//
// The enqueue completes before Accept returns: a nil error means the
// work is durably queued. An enqueue failure is reported as
// queue.ErrQueueUnavailable and no operation ID leaks to the caller.
//
// Accept does not deduplicate: retrying the same logical request yields
// a second, independent operation.
func (a *Acceptor) Accept(ctx context.Context, req *Request) (*Accepted, error) {
	if req == nil {
		return nil, &ValidationError{Reason: "nil request"}
	}

	// validate before any side effect.
	if err := a.validate(req.Payload); err != nil {
		return nil, err
	}

	id := a.ider.ID()
	location := fmt.Sprintf("%s/status/%s", a.baseURL, id)

	env, err := envelope.Wrap(req.Payload, envelope.Properties{
		OperationID:    id,
		SubmittedAt:    a.now().UTC(),
		StatusLocation: location,
		ObjectType:     req.ObjectType,
	})
	if err != nil {
		return nil, fmt.Errorf("wrapping payload: %w", err)
	}

	if err = a.enqueuer.Enqueue(ctx, env); err != nil {
		if !errors.Is(err, queue.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %v", queue.ErrQueueUnavailable, err)
		}
		return nil, err
	}

	retryAfter := a.retryAfter
	if req.Estimate > 0 {
		retryAfter = req.Estimate
	}

	return &Accepted{
		OperationID: id,
		Location:    location,
		RetryAfter:  retryAfter,
	}, nil
}
