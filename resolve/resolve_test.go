package resolve

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/replyq/replyq/storage"
	"github.com/replyq/replyq/storage/inmem"
)

const testBaseURL = "http://localhost:9005"

func newResolver(opts ...Option) (*Resolver, storage.Store) {
	store := inmem.New([]byte("test-secret"))
	return New(store, testBaseURL, opts...), store
}

func TestPendingAccepted(t *testing.T) {
	r, _ := newResolver(WithRetryAfter(15 * time.Second))

	status, err := r.Resolve(context.Background(), "op-1", OnCompleteRedirect, OnPendingAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := status.State, StatePending; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := status.Location, testBaseURL+"/status/op-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := status.RetryAfter, 15*time.Second; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestCompletedRedirect(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()

	artifact := []byte("the result")
	if err := store.Write(ctx, "op-2", artifact, storage.Success); err != nil {
		t.Fatal(err)
	}

	status, err := r.Resolve(ctx, "op-2", OnCompleteRedirect, OnPendingAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := status.State, StateCompletedRedirect; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !strings.HasPrefix(status.Location, testBaseURL+"/artifact/op-2?ref=") {
		t.Errorf("unexpected artifact location: %v", status.Location)
	}

	// the reference must be redeemable for the original artifact.
	ref := strings.TrimPrefix(status.Location, testBaseURL+"/artifact/op-2?ref=")
	got, kind, err := store.ReadScoped(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, artifact) || kind != storage.Success {
		t.Error("scoped reference did not resolve to original artifact")
	}
}

func TestCompletedStream(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()

	artifact := []byte("inline result bytes")
	if err := store.Write(ctx, "op-3", artifact, storage.Success); err != nil {
		t.Fatal(err)
	}

	status, err := r.Resolve(ctx, "op-3", OnCompleteStream, OnPendingAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := status.State, StateCompletedStream; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !bytes.Equal(status.Artifact, artifact) {
		t.Errorf("have: %q, want: %q", status.Artifact, artifact)
	}
}

func TestFailed(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()

	detail := []byte(`{"code":"E_PROCESS","message":"went sideways"}`)
	if err := store.Write(ctx, "op-4", detail, storage.Failure); err != nil {
		t.Fatal(err)
	}

	// failure wins regardless of the completion mode requested.
	for _, oc := range []OnComplete{OnCompleteRedirect, OnCompleteStream} {
		status, err := r.Resolve(ctx, "op-4", oc, OnPendingAccepted)
		if err != nil {
			t.Fatal(err)
		}
		if have, want := status.State, StateFailed; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if !bytes.Equal(status.Artifact, detail) {
			t.Errorf("have: %q, want: %q", status.Artifact, detail)
		}
	}
}

func TestMonotonicStatus(t *testing.T) {
	r, store := newResolver()
	ctx := context.Background()

	if err := store.Write(ctx, "op-5", []byte("done"), storage.Success); err != nil {
		t.Fatal(err)
	}

	// once complete, repeated polls never regress to pending.
	for i := 0; i < 5; i++ {
		status, err := r.Resolve(ctx, "op-5", OnCompleteStream, OnPendingAccepted)
		if err != nil {
			t.Fatal(err)
		}
		if status.State == StatePending {
			t.Fatal("status regressed to pending")
		}
	}
}

func TestSynchronousTimesOut(t *testing.T) {
	// schedule: 1+2+4+8ms, giving up once the next wait would exceed 8ms.
	r, _ := newResolver(WithBackoff(time.Millisecond, 8*time.Millisecond))

	start := time.Now()
	status, err := r.Resolve(context.Background(), "op-6", OnCompleteRedirect, OnPendingSynchronous)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := status.State, StateTimedOut; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("gave up before the schedule elapsed: %v", elapsed)
	}
}

func TestSynchronousSeesLateResult(t *testing.T) {
	r, store := newResolver(WithBackoff(5*time.Millisecond, time.Second))
	ctx := context.Background()

	artifact := []byte("late but here")
	go func() {
		time.Sleep(20 * time.Millisecond)
		store.Write(ctx, "op-7", artifact, storage.Success)
	}()

	status, err := r.Resolve(ctx, "op-7", OnCompleteStream, OnPendingSynchronous)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := status.State, StateCompletedStream; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !bytes.Equal(status.Artifact, artifact) {
		t.Errorf("have: %q, want: %q", status.Artifact, artifact)
	}
}

func TestSynchronousCallerDeadlineWins(t *testing.T) {
	r, _ := newResolver(WithBackoff(10*time.Millisecond, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Resolve(ctx, "op-8", OnCompleteRedirect, OnPendingSynchronous)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("have: %v, want: %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("resolver held on long past the caller deadline: %v", elapsed)
	}
}

func TestParseVariants(t *testing.T) {
	for _, test := range []struct {
		in   string
		want OnComplete
		err  bool
	}{
		{"", OnCompleteRedirect, false},
		{"Redirect", OnCompleteRedirect, false},
		{"stream", OnCompleteStream, false},
		{"bogus", 0, true},
	} {
		have, err := ParseOnComplete(test.in)
		if test.err {
			if !errors.Is(err, ErrBadVariant) {
				t.Errorf("%q: have: %v, want: %v", test.in, err, ErrBadVariant)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
		} else if have != test.want {
			t.Errorf("%q: have: %v, want: %v", test.in, have, test.want)
		}
	}

	for _, test := range []struct {
		in   string
		want OnPending
		err  bool
	}{
		{"", OnPendingAccepted, false},
		{"Accepted", OnPendingAccepted, false},
		{"synchronous", OnPendingSynchronous, false},
		{"nope", 0, true},
	} {
		have, err := ParseOnPending(test.in)
		if test.err {
			if !errors.Is(err, ErrBadVariant) {
				t.Errorf("%q: have: %v, want: %v", test.in, err, ErrBadVariant)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", test.in, err)
		} else if have != test.want {
			t.Errorf("%q: have: %v, want: %v", test.in, have, test.want)
		}
	}
}
