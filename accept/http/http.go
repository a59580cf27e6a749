// Package http contains HTTP handlers for request acceptance.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/replyq/replyq/accept"
	httpq "github.com/replyq/replyq/http"
	"github.com/replyq/replyq/http/api"
	"github.com/replyq/replyq/logkeys"
	"github.com/replyq/replyq/queue"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ErrNoAcceptor is returned when the handler has no acceptor configured.
var ErrNoAcceptor = errors.New("missing acceptor")

// Acceptor accepts asynchronous work requests.
type Acceptor interface {
	Accept(ctx context.Context, req *accept.Request) (*accept.Accepted, error)
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// Handle registers the acceptance endpoint into mux under prefix.
// Authentication or any other layered handlers are not present.
func Handle(prefix string, mux Mux, logger log.Logger, a Acceptor) {
	mux.Handle(
		prefix+"/queue/:objectType",
		AcceptHandler(a, logger.With("handler", "accept")),
		"POST",
	)
}

// AcceptHandler creates a HandlerFunc that accepts a caller payload for
// asynchronous processing. It responds 202 with a Location header
// pointing at the operation's status URL and a Retry-After hint.
// The work is durably enqueued before the response is written.
func AcceptHandler(a Acceptor, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		if a == nil {
			logger.Info(logkeys.Message, "accepting request", logkeys.Error, ErrNoAcceptor)
			api.JSONError(w, ErrNoAcceptor, 0)
			return
		}

		payload, err := httpq.ReadAllAndReplaceBody(r)
		if err != nil {
			logger.Info(logkeys.Message, "reading body", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		objectType := flow.Param(r.Context(), "objectType")
		logger = logger.With(logkeys.ObjectType, objectType)

		var estimate time.Duration
		if v := r.URL.Query().Get("estimate"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs < 0 {
				logger.Info(logkeys.Message, "parsing estimate", logkeys.Error, err)
				api.JSONError(w, errors.New("invalid estimate"), http.StatusBadRequest)
				return
			}
			estimate = time.Duration(secs) * time.Second
		}

		accepted, err := a.Accept(r.Context(), &accept.Request{
			Payload:    payload,
			ObjectType: objectType,
			Estimate:   estimate,
		})
		if err != nil {
			logger.Info(logkeys.Message, "accepting request", logkeys.Error, err)
			var vErr *accept.ValidationError
			switch {
			case errors.As(err, &vErr):
				api.JSONError(w, err, http.StatusBadRequest)
			case errors.Is(err, queue.ErrQueueUnavailable):
				api.JSONError(w, err, http.StatusServiceUnavailable)
			default:
				api.JSONError(w, err, 0)
			}
			return
		}

		logger.Debug(
			logkeys.Message, "accepted request",
			logkeys.OperationID, accepted.OperationID,
			logkeys.StatusLocation, accepted.Location,
		)

		w.Header().Set("Location", accepted.Location)
		httpq.SetRetryAfter(w, accepted.RetryAfter)
		// body echoes the acceptance for non-header-aware clients.
		if err = api.JSONResponse(w, accepted, http.StatusAccepted); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}
