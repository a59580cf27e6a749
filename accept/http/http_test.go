package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/replyq/replyq/accept"
	"github.com/replyq/replyq/queue/inmem"
	"github.com/replyq/replyq/utils/uuid"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

func newMux(a Acceptor) *flow.Mux {
	mux := flow.New()
	Handle("", mux, log.NopLogger, a)
	return mux
}

func TestAcceptEndpoint(t *testing.T) {
	q := inmem.New()
	a := accept.New(q, "http://localhost:9005", accept.WithIDer(uuid.NewStaticIDs("op-a")))
	mux := newMux(a)

	r := httptest.NewRequest("POST", "/queue/report", strings.NewReader(`{"id":"x"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if have, want := rec.Code, http.StatusAccepted; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := rec.Header().Get("Location"), "http://localhost:9005/status/op-a"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var body struct {
		OperationID string `json:"operation_id"`
		Location    string `json:"location"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if have, want := body.OperationID, "op-a"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// the envelope must already be on the queue.
	msg, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(msg.Envelope, []byte("RequestObject")) {
		t.Error("expected enveloped payload on queue")
	}
}

func TestAcceptEstimateQuery(t *testing.T) {
	a := accept.New(inmem.New(), "http://localhost:9005")
	mux := newMux(a)

	r := httptest.NewRequest("POST", "/queue/report?estimate=90", strings.NewReader("work"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if have, want := rec.Code, http.StatusAccepted; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := rec.Header().Get("Retry-After"), "90"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestAcceptValidationRejected(t *testing.T) {
	q := inmem.New()
	a := accept.New(q, "http://localhost:9005")
	mux := newMux(a)

	// empty body fails the default validator.
	r := httptest.NewRequest("POST", "/queue/report", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if have, want := rec.Code, http.StatusBadRequest; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	dctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(dctx); err == nil {
		t.Error("expected empty queue after rejected request")
	}
}

func TestAcceptQueueUnavailable(t *testing.T) {
	q := inmem.New(inmem.WithCapacity(1))
	if err := q.Enqueue(context.Background(), []byte("filler")); err != nil {
		t.Fatal(err)
	}
	a := accept.New(q, "http://localhost:9005")
	mux := newMux(a)

	r := httptest.NewRequest("POST", "/queue/report", strings.NewReader("work"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if have, want := rec.Code, http.StatusServiceUnavailable; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if rec.Header().Get("Location") != "" {
		t.Error("no operation location may leak on enqueue failure")
	}
}

func TestAcceptBadEstimate(t *testing.T) {
	a := accept.New(inmem.New(), "http://localhost:9005")
	mux := newMux(a)

	r := httptest.NewRequest("POST", "/queue/report?estimate=soon", strings.NewReader("work"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if have, want := rec.Code, http.StatusBadRequest; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
