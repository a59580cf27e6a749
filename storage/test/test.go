// Package test contains a conformance test suite for result storage backends.
package test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/replyq/replyq/storage"
)

// TestStore runs the storage conformance suite against the backend
// returned by newStore.
func TestStore(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		s := newStore()

		found, err := s.Exists(ctx, "no-such-op")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Error("expected missing artifact")
		}

		if _, _, err = s.Read(ctx, "no-such-op"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
		}

		if _, err = s.ScopedReadReference(ctx, "no-such-op", time.Minute); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
		}
	})

	t.Run("write-read", func(t *testing.T) {
		s := newStore()

		artifact := []byte(`{"report":"done"}`)
		if err := s.Write(ctx, "op-1", artifact, storage.Success); err != nil {
			t.Fatal(err)
		}

		// read-your-writes: a completed write must be immediately visible.
		found, err := s.Exists(ctx, "op-1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Error("expected artifact to exist after write")
		}

		got, kind, err := s.Read(ctx, "op-1")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, artifact) {
			t.Errorf("have: %q, want: %q", got, artifact)
		}
		if have, want := kind, storage.Success; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
	})

	t.Run("failure-kind", func(t *testing.T) {
		s := newStore()

		detail := []byte(`{"code":"E_BUSTED","message":"no good"}`)
		if err := s.Write(ctx, "op-2", detail, storage.Failure); err != nil {
			t.Fatal(err)
		}
		got, kind, err := s.Read(ctx, "op-2")
		if err != nil {
			t.Fatal(err)
		}
		if have, want := kind, storage.Failure; have != want {
			t.Errorf("have: %v, want: %v", have, want)
		}
		if !bytes.Equal(got, detail) {
			t.Errorf("have: %q, want: %q", got, detail)
		}
	})

	t.Run("idempotent-write", func(t *testing.T) {
		s := newStore()

		artifact := []byte("artifact bytes")
		for i := 0; i < 2; i++ {
			if err := s.Write(ctx, "op-3", artifact, storage.Success); err != nil {
				t.Fatal(err)
			}
		}
		got, kind, err := s.Read(ctx, "op-3")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, artifact) || kind != storage.Success {
			t.Error("double write changed observable state")
		}
	})

	t.Run("scoped-reference", func(t *testing.T) {
		s := newStore()

		artifact := []byte("valet-keyed artifact")
		if err := s.Write(ctx, "op-4", artifact, storage.Success); err != nil {
			t.Fatal(err)
		}

		ref, err := s.ScopedReadReference(ctx, "op-4", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		got, kind, err := s.ReadScoped(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, artifact) || kind != storage.Success {
			t.Error("scoped read returned wrong artifact")
		}

		if _, _, err = s.ReadScoped(ctx, "bogus-reference"); err == nil {
			t.Error("expected error redeeming bogus reference")
		}
	})
}
