// Package resolve implements the operation status state machine.
//
// An operation's state is observed, never mutated: the presence of a
// result artifact in the store is the status oracle, and its kind
// distinguishes success from failure.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/replyq/replyq/storage"
)

// State is the resolved status of an operation.
type State int

const (
	// StatePending means no result artifact exists yet.
	StatePending State = iota

	// StateCompletedRedirect carries a scoped reference to the artifact.
	StateCompletedRedirect

	// StateCompletedStream carries the artifact content inline.
	StateCompletedStream

	// StateFailed carries the persisted failure detail.
	StateFailed

	// StateTimedOut means the synchronous wait ceiling was reached.
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompletedRedirect:
		return "completed (redirect)"
	case StateCompletedStream:
		return "completed (stream)"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed out"
	}
	return "unknown"
}

// Status is the result of resolving an operation.
type Status struct {
	State State

	// Location is the self status URL for pending states and the
	// scoped artifact reference for redirect completion.
	Location string

	// RetryAfter is the suggested minimum delay before the next poll.
	// Only set for pending status.
	RetryAfter time.Duration

	// Artifact is the inline content for stream completion and the
	// persisted failure detail for failed operations.
	Artifact []byte
}

const (
	// DefaultRetryAfter is the suggested poll delay when none is configured.
	DefaultRetryAfter = 30 * time.Second

	// DefaultBackoffInitial is the first synchronous-wait interval.
	DefaultBackoffInitial = 250 * time.Millisecond

	// DefaultBackoffCeiling bounds the synchronous wait: once the next
	// doubled interval would exceed it the wait gives up.
	DefaultBackoffCeiling = 64 * time.Second

	// DefaultRefTTL is the lifetime of issued scoped artifact references.
	DefaultRefTTL = 5 * time.Minute
)

// Resolver resolves operation status against a result store.
type Resolver struct {
	store      storage.ReadStore
	baseURL    string
	retryAfter time.Duration

	backoffInitial time.Duration
	backoffCeiling time.Duration

	refTTL time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRetryAfter sets the suggested poll delay for pending responses.
func WithRetryAfter(d time.Duration) Option {
	return func(r *Resolver) {
		r.retryAfter = d
	}
}

// WithBackoff sets the synchronous-wait schedule: the wait starts at
// initial and doubles until the next wait would exceed ceiling.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(r *Resolver) {
		r.backoffInitial = initial
		r.backoffCeiling = ceiling
	}
}

// WithRefTTL sets the lifetime of issued scoped artifact references.
func WithRefTTL(d time.Duration) Option {
	return func(r *Resolver) {
		r.refTTL = d
	}
}

// New creates a new resolver. Status locations are derived from baseURL.
func New(store storage.ReadStore, baseURL string, opts ...Option) *Resolver {
	r := &Resolver{
		store:          store,
		baseURL:        baseURL,
		retryAfter:     DefaultRetryAfter,
		backoffInitial: DefaultBackoffInitial,
		backoffCeiling: DefaultBackoffCeiling,
		refTTL:         DefaultRefTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StatusLocation returns the stable status URL for an operation ID.
func (r *Resolver) StatusLocation(id string) string {
	return fmt.Sprintf("%s/status/%s", r.baseURL, id)
}

// ArtifactLocation returns the artifact URL for a scoped reference.
func (r *Resolver) ArtifactLocation(id, ref string) string {
	return fmt.Sprintf("%s/artifact/%s?ref=%s", r.baseURL, id, ref)
}

// Resolve observes the current state of operation id.
//
// OnPendingSynchronous blocks, re-checking existence on a doubling
// backoff schedule, until the result appears, the schedule ceiling is
// reached (StateTimedOut), or ctx is done. The caller's ctx deadline
// always wins over the internal schedule.
func (r *Resolver) Resolve(ctx context.Context, id string, onComplete OnComplete, onPending OnPending) (*Status, error) {
	if id == "" {
		return nil, storage.ErrMissingID
	}

	found, err := r.store.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("checking result existence: %w", err)
	}

	if !found {
		switch onPending {
		case OnPendingAccepted:
			return &Status{
				State:      StatePending,
				Location:   r.StatusLocation(id),
				RetryAfter: r.retryAfter,
			}, nil
		case OnPendingSynchronous:
			found, err = r.wait(ctx, id)
			if err != nil {
				return nil, err
			}
			if !found {
				return &Status{State: StateTimedOut}, nil
			}
		default:
			return nil, fmt.Errorf("%w: onPending=%d", ErrBadVariant, onPending)
		}
	}

	artifact, kind, err := r.store.Read(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}

	if kind == storage.Failure {
		return &Status{State: StateFailed, Artifact: artifact}, nil
	}

	switch onComplete {
	case OnCompleteRedirect:
		ref, err := r.store.ScopedReadReference(ctx, id, r.refTTL)
		if err != nil {
			return nil, fmt.Errorf("issuing scoped reference: %w", err)
		}
		return &Status{
			State:    StateCompletedRedirect,
			Location: r.ArtifactLocation(id, ref),
		}, nil
	case OnCompleteStream:
		return &Status{State: StateCompletedStream, Artifact: artifact}, nil
	}
	return nil, fmt.Errorf("%w: onComplete=%d", ErrBadVariant, onComplete)
}

// wait blocks until a result exists for id or the backoff schedule is
// exhausted. Existence is re-checked before every sleep.
func (r *Resolver) wait(ctx context.Context, id string) (bool, error) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for interval := r.backoffInitial; interval <= r.backoffCeiling; interval *= 2 {
		found, err := r.store.Exists(ctx, id)
		if err != nil {
			return false, fmt.Errorf("checking result existence: %w", err)
		}
		if found {
			return true, nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	// one last look after the final sleep.
	found, err := r.store.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("checking result existence: %w", err)
	}
	return found, nil
}
