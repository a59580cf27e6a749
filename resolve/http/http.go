// Package http contains HTTP handlers for operation status polling.
package http

import (
	"context"
	"errors"
	"net/http"

	httpq "github.com/replyq/replyq/http"
	"github.com/replyq/replyq/http/api"
	"github.com/replyq/replyq/logkeys"
	"github.com/replyq/replyq/resolve"
	"github.com/replyq/replyq/storage"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	// ErrNoResolver is returned when the handler has no resolver configured.
	ErrNoResolver = errors.New("missing resolver")

	ErrMissingReference = errors.New("missing ref parameter")
	ErrOperationTimeout = errors.New("operation result not available")
)

// StreamWarnSize is the inline artifact size above which the stream
// completion mode logs a warning. Streaming buffers the whole artifact;
// large artifacts should use the redirect mode instead.
const StreamWarnSize = 4 * 1024 * 1024

// Resolver resolves operation status.
type Resolver interface {
	Resolve(ctx context.Context, id string, onComplete resolve.OnComplete, onPending resolve.OnPending) (*resolve.Status, error)
}

// ArtifactStore redeems scoped read references.
type ArtifactStore interface {
	ReadScoped(ctx context.Context, ref string) ([]byte, storage.Kind, error)
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// Handle registers the status and artifact endpoints into mux under prefix.
func Handle(prefix string, mux Mux, logger log.Logger, r Resolver, s ArtifactStore) {
	mux.Handle(
		prefix+"/status/:id",
		StatusHandler(r, logger.With("handler", "status")),
		"GET",
	)
	mux.Handle(
		prefix+"/artifact/:id",
		ArtifactHandler(s, logger.With("handler", "artifact")),
		"GET",
	)
}

// StatusHandler creates a HandlerFunc that polls operation status.
//
// Query parameters onComplete (Redirect|Stream) and onPending
// (Accepted|Synchronous) select the response mode; unrecognized values
// are rejected with 400 regardless of operation state.
func StatusHandler(resolver Resolver, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		id := flow.Param(r.Context(), "id")
		logger = logger.With(logkeys.OperationID, id)

		onComplete, err := resolve.ParseOnComplete(r.URL.Query().Get("onComplete"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		onPending, err := resolve.ParseOnPending(r.URL.Query().Get("onPending"))
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		if resolver == nil {
			logger.Info(logkeys.Message, "resolving status", logkeys.Error, ErrNoResolver)
			api.JSONError(w, ErrNoResolver, 0)
			return
		}

		status, err := resolver.Resolve(r.Context(), id, onComplete, onPending)
		if err != nil {
			logger.Info(logkeys.Message, "resolving status", logkeys.Error, err)
			if errors.Is(err, resolve.ErrBadVariant) {
				api.JSONError(w, err, http.StatusBadRequest)
			} else {
				api.JSONError(w, err, 0)
			}
			return
		}

		logger.Debug(logkeys.Message, "resolved status", "state", status.State.String())

		switch status.State {
		case resolve.StatePending:
			w.Header().Set("Location", status.Location)
			httpq.SetRetryAfter(w, status.RetryAfter)
			w.WriteHeader(http.StatusAccepted)
		case resolve.StateTimedOut:
			api.JSONError(w, ErrOperationTimeout, http.StatusNotFound)
		case resolve.StateCompletedRedirect:
			w.Header().Set("Location", status.Location)
			w.WriteHeader(http.StatusFound)
		case resolve.StateCompletedStream:
			if len(status.Artifact) > StreamWarnSize {
				logger.Info(
					logkeys.Message, "streaming large artifact inline",
					logkeys.GenericCount, len(status.Artifact),
				)
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(status.Artifact)
		case resolve.StateFailed:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write(status.Artifact)
		default:
			api.JSONError(w, errors.New("unhandled state"), 0)
		}
	}
}

// ArtifactHandler creates a HandlerFunc serving artifacts by scoped read
// reference. The reference (a "valet key") is the only credential
// checked; invalid or expired references are rejected.
func ArtifactHandler(store ArtifactStore, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		logger = logger.With(logkeys.OperationID, flow.Param(r.Context(), "id"))

		ref := r.URL.Query().Get("ref")
		if ref == "" {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrMissingReference)
			api.JSONError(w, ErrMissingReference, http.StatusBadRequest)
			return
		}

		artifact, _, err := store.ReadScoped(r.Context(), ref)
		if err != nil {
			logger.Info(logkeys.Message, "redeeming reference", logkeys.Error, err)
			switch {
			case errors.Is(err, storage.ErrInvalidReference),
				errors.Is(err, storage.ErrReferenceExpired):
				api.JSONError(w, err, http.StatusForbidden)
			case errors.Is(err, storage.ErrNotFound):
				api.JSONError(w, err, http.StatusNotFound)
			default:
				api.JSONError(w, err, 0)
			}
			return
		}

		logger.Debug(logkeys.Message, "served artifact", logkeys.GenericCount, len(artifact))

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(artifact)
	}
}
