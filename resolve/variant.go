package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadVariant is returned when an enum-like input does not parse
// against the known variant set. Callers surface it as a client error
// rather than ever reaching an "impossible" branch.
var ErrBadVariant = errors.New("unrecognized variant")

// OnComplete selects how a completed result is returned.
type OnComplete int

const (
	// OnCompleteRedirect returns a scoped reference to the artifact.
	OnCompleteRedirect OnComplete = iota

	// OnCompleteStream returns the artifact content inline.
	// Unsuitable for large artifacts.
	OnCompleteStream
)

// ParseOnComplete parses s as an OnComplete variant.
// The empty string selects OnCompleteRedirect.
func ParseOnComplete(s string) (OnComplete, error) {
	switch strings.ToLower(s) {
	case "", "redirect":
		return OnCompleteRedirect, nil
	case "stream":
		return OnCompleteStream, nil
	}
	return 0, fmt.Errorf("%w: onComplete=%q", ErrBadVariant, s)
}

// OnPending selects how a not-yet-complete result is handled.
type OnPending int

const (
	// OnPendingAccepted immediately reports pending with a retry hint.
	OnPendingAccepted OnPending = iota

	// OnPendingSynchronous blocks on a bounded backoff schedule
	// waiting for the result to appear.
	OnPendingSynchronous
)

// ParseOnPending parses s as an OnPending variant.
// The empty string selects OnPendingAccepted.
func ParseOnPending(s string) (OnPending, error) {
	switch strings.ToLower(s) {
	case "", "accepted":
		return OnPendingAccepted, nil
	case "synchronous":
		return OnPendingSynchronous, nil
	}
	return 0, fmt.Errorf("%w: onPending=%q", ErrBadVariant, s)
}
