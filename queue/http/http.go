// Package http contains HTTP handlers for work queue inspection.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/replyq/replyq/http/api"
	"github.com/replyq/replyq/logkeys"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ErrNoInspector is returned when the handler has no queue configured.
var ErrNoInspector = errors.New("missing dead-letter inspector")

// DeadLetterInspector exposes dead-lettered envelopes for inspection.
type DeadLetterInspector interface {
	DeadLetters() [][]byte
}

// DeadLettersHandler creates a HandlerFunc listing dead-lettered
// envelopes. Intended for manual inspection behind API authentication.
func DeadLettersHandler(q DeadLetterInspector, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		if q == nil {
			logger.Info(logkeys.Message, "listing dead letters", logkeys.Error, ErrNoInspector)
			api.JSONError(w, ErrNoInspector, 0)
			return
		}

		dead := q.DeadLetters()
		logger.Debug(logkeys.Message, "listing dead letters", logkeys.GenericCount, len(dead))

		resp := &struct {
			Count     int               `json:"count"`
			Envelopes []json.RawMessage `json:"envelopes"`
		}{Count: len(dead)}
		for _, env := range dead {
			if json.Valid(env) {
				resp.Envelopes = append(resp.Envelopes, json.RawMessage(env))
			} else {
				// non-JSON poison messages are re-quoted for transport.
				quoted, _ := json.Marshal(string(env))
				resp.Envelopes = append(resp.Envelopes, json.RawMessage(quoted))
			}
		}
		if err := api.JSONResponse(w, resp, http.StatusOK); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}
