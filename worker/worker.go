// Package worker implements the background driver that drains the work queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/replyq/replyq/envelope"
	"github.com/replyq/replyq/logkeys"
	"github.com/replyq/replyq/queue"
	"github.com/replyq/replyq/storage"

	"github.com/micromdm/nanolib/log"
)

// DefaultMaxDeliveries is how many deliveries an envelope gets before
// it is dead-lettered instead of retried.
const DefaultMaxDeliveries = 5

// ProcessFunc is the injected business logic applied to a payload.
// A returned error records a failure artifact for the operation; it is
// not retried by the driver.
type ProcessFunc func(ctx context.Context, payload []byte) ([]byte, error)

// FailureDetail is the error artifact persisted for failed processing.
type FailureDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProcessError carries a diagnostic code with a processing failure.
// Process functions may return one to control the persisted code.
type ProcessError struct {
	Code string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Worker dequeues envelopes, applies the processing function, and
// persists the outcome. Multiple workers may drain the same queue.
type Worker struct {
	dequeuer queue.Dequeuer
	store    storage.Store
	process  ProcessFunc
	logger   log.Logger

	maxDeliveries int
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger log.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithMaxDeliveries sets the redelivery budget before dead-lettering.
func WithMaxDeliveries(n int) Option {
	return func(w *Worker) {
		w.maxDeliveries = n
	}
}

// New creates a new worker.
func New(dequeuer queue.Dequeuer, store storage.Store, process ProcessFunc, opts ...Option) *Worker {
	w := &Worker{
		dequeuer:      dequeuer,
		store:         store,
		process:       process,
		logger:        log.NopLogger,
		maxDeliveries: DefaultMaxDeliveries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the queue until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug(logkeys.Message, "starting worker")
	for {
		if err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, queue.ErrClosed) {
				return err
			}
			w.logger.Info(logkeys.Message, "processing envelope", logkeys.Error, err)
		}
	}
}

// RunOnce dequeues and fully handles a single envelope.
func (w *Worker) RunOnce(ctx context.Context) error {
	msg, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.handle(ctx, msg)
}

func (w *Worker) handle(ctx context.Context, msg *queue.Message) error {
	payload, props, err := envelope.Unwrap(msg.Envelope)
	if err != nil {
		// a malformed envelope will never succeed on redelivery.
		w.logger.Info(logkeys.Message, "unwrapping envelope", logkeys.Error, err)
		if dlErr := w.dequeuer.DeadLetter(ctx, msg); dlErr != nil {
			return fmt.Errorf("dead-lettering malformed envelope: %w", dlErr)
		}
		return nil
	}

	logger := w.logger.With(
		logkeys.OperationID, props.OperationID,
		logkeys.DeliveryCount, msg.DeliveryCount,
	)

	if msg.DeliveryCount > w.maxDeliveries {
		logger.Info(logkeys.Message, "redelivery budget exceeded")
		if err = w.dequeuer.DeadLetter(ctx, msg); err != nil {
			return fmt.Errorf("dead-lettering envelope: %w", err)
		}
		return nil
	}

	artifact, kind, procErr := w.runProcess(ctx, payload)
	if procErr != nil {
		// an unhandled fault: leave the envelope unacknowledged and
		// let the queue redeliver it.
		logger.Info(logkeys.Message, "processing fault", logkeys.Error, procErr)
		return nil
	}

	// the outcome must be durable before the envelope leaves the
	// queue; a crash in between results in redelivery and the write
	// is idempotent by key.
	if err = w.store.Write(ctx, props.OperationID, artifact, kind); err != nil {
		logger.Info(logkeys.Message, "writing result", logkeys.Error, err)
		return nil
	}

	if err = w.dequeuer.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acknowledging envelope: %w", err)
	}

	logger.Debug(logkeys.Message, "processed envelope", logkeys.ResultKind, kind)
	return nil
}

// runProcess invokes the processing function and maps its outcome to an
// artifact and kind. A returned business error becomes a failure
// artifact; a panic is reported as a fault so the envelope redelivers.
func (w *Worker) runProcess(ctx context.Context, payload []byte) (artifact []byte, kind storage.Kind, fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("process panic: %v", r)
		}
	}()

	result, err := w.process(ctx, payload)
	if err != nil {
		detail := FailureDetail{
			Code:    "processing_error",
			Message: err.Error(),
		}
		var pErr *ProcessError
		if errors.As(err, &pErr) {
			detail.Code = pErr.Code
		}
		raw, mErr := json.Marshal(&detail)
		if mErr != nil {
			return nil, 0, fmt.Errorf("marshal failure detail: %w", mErr)
		}
		return raw, storage.Failure, nil
	}
	return result, storage.Success, nil
}
