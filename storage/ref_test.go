package storage

import (
	"errors"
	"testing"
	"time"
)

func TestRefSigner(t *testing.T) {
	s := NewRefSigner([]byte("test-secret"))

	ref := s.Issue("op-id-1", time.Minute)
	id, err := s.Verify(ref)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := id, "op-id-1"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if _, err = s.Verify(ref + "x"); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("have: %v, want: %v", err, ErrInvalidReference)
	}

	other := NewRefSigner([]byte("other-secret"))
	if _, err = other.Verify(ref); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("have: %v, want: %v", err, ErrInvalidReference)
	}
}

func TestRefSignerExpiry(t *testing.T) {
	s := NewRefSigner([]byte("test-secret"))
	current := time.Now()
	s.now = func() time.Time { return current }

	ref := s.Issue("op-id-1", time.Minute)

	current = current.Add(2 * time.Minute)
	if _, err := s.Verify(ref); !errors.Is(err, ErrReferenceExpired) {
		t.Errorf("have: %v, want: %v", err, ErrReferenceExpired)
	}
}
