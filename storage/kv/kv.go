// Package kv implements a result storage backend using a key-value store.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replyq/replyq/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

const (
	keySfxArtifact = ".artifact" // raw artifact bytes
	keySfxKind     = ".kind"     // artifact kind tag
)

// KV is a result storage backend using a key-value store.
type KV struct {
	b      kv.Bucket
	signer *storage.RefSigner
}

// New creates a new result storage backend backed by b.
// References issued by ScopedReadReference are signed with secret.
func New(b kv.Bucket, secret []byte) *KV {
	return &KV{b: b, signer: storage.NewRefSigner(secret)}
}

// Exists reports whether an artifact has been written for id.
func (s *KV) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, storage.ErrMissingID
	}
	// the kind key is written last; its presence marks a complete write.
	return s.b.Has(ctx, id+keySfxKind)
}

// Write persists the artifact under id. Writes to the same key overwrite.
func (s *KV) Write(ctx context.Context, id string, artifact []byte, kind storage.Kind) error {
	if id == "" {
		return storage.ErrMissingID
	}
	if err := s.b.Set(ctx, id+keySfxArtifact, artifact); err != nil {
		return fmt.Errorf("setting artifact for %s: %w", id, err)
	}
	if err := s.b.Set(ctx, id+keySfxKind, []byte{byte(kind)}); err != nil {
		return fmt.Errorf("setting kind for %s: %w", id, err)
	}
	return nil
}

// Read returns the artifact and its kind for id.
func (s *KV) Read(ctx context.Context, id string) ([]byte, storage.Kind, error) {
	if id == "" {
		return nil, 0, storage.ErrMissingID
	}
	rawKind, err := s.b.Get(ctx, id+keySfxKind)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	} else if err != nil {
		return nil, 0, fmt.Errorf("getting kind for %s: %w", id, err)
	}
	if len(rawKind) != 1 {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	kind := storage.Kind(rawKind[0])
	if kind != storage.Success && kind != storage.Failure {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	artifact, err := s.b.Get(ctx, id+keySfxArtifact)
	if err != nil {
		return nil, 0, fmt.Errorf("getting artifact for %s: %w", id, err)
	}
	return artifact, kind, nil
}

// ScopedReadReference issues a signed expiring read reference for id.
func (s *KV) ScopedReadReference(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if id == "" {
		return "", storage.ErrMissingID
	}
	found, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return s.signer.Issue(id, ttl), nil
}

// ReadScoped verifies ref and reads the artifact it grants access to.
func (s *KV) ReadScoped(ctx context.Context, ref string) ([]byte, storage.Kind, error) {
	id, err := s.signer.Verify(ref)
	if err != nil {
		return nil, 0, err
	}
	return s.Read(ctx, id)
}
