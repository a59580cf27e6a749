// Package storage defines types and interfaces for operation result storage backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Kind tags a stored artifact as the product of successful or failed processing.
type Kind int

const (
	// Success marks an artifact produced by successful processing.
	Success Kind = iota

	// Failure marks an error artifact recorded in place of a result.
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "unknown"
}

var (
	// ErrNotFound is returned when no artifact exists for an operation ID.
	ErrNotFound = errors.New("result not found")

	// ErrInvalidKind is returned when a backend reads an unknown kind tag.
	ErrInvalidKind = errors.New("invalid result kind")

	ErrMissingID = errors.New("missing operation id")
)

// ReadStore is the existence-and-read side of a result store.
// Existence of an artifact is the status oracle for an operation: no
// separate status ledger is kept.
type ReadStore interface {
	// Exists reports whether an artifact has been written for id.
	// Backends must provide read-after-write visibility for a single
	// key: a write that has returned must be observable here.
	Exists(ctx context.Context, id string) (bool, error)

	// Read returns the artifact and its kind for id.
	// Returns ErrNotFound if no artifact exists.
	Read(ctx context.Context, id string) ([]byte, Kind, error)

	// ScopedReadReference issues a time-limited read-only reference
	// ("valet key") for the artifact stored under id. The reference can
	// be redeemed with ReadScoped without broader store access.
	ScopedReadReference(ctx context.Context, id string, ttl time.Duration) (string, error)

	// ReadScoped redeems a reference issued by ScopedReadReference.
	ReadScoped(ctx context.Context, ref string) ([]byte, Kind, error)
}

// Store is a key-addressable artifact store queried by operation ID.
type Store interface {
	ReadStore

	// Write persists the artifact under id. Overwriting the same id is
	// idempotent: writing identical content twice leaves the store in
	// the same observable state as writing it once.
	Write(ctx context.Context, id string, artifact []byte, kind Kind) error
}
