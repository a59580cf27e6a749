// Package diskv implements a diskv-backed result storage backend.
package diskv

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/replyq/replyq/storage"

	"github.com/peterbourgon/diskv/v3"
)

const (
	keySfxArtifact = ".artifact"
	keySfxKind     = ".kind"
)

// Diskv is an on-disk result store.
type Diskv struct {
	diskv  *diskv.Diskv
	signer *storage.RefSigner
}

// New creates a new initialized on-disk result store at path.
func New(path string, secret []byte) *Diskv {
	flatTransform := func(s string) []string { return []string{} }
	return &Diskv{
		diskv: diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "result"),
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		}),
		signer: storage.NewRefSigner(secret),
	}
}

// Exists reports whether an artifact has been written for id.
func (s *Diskv) Exists(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, storage.ErrMissingID
	}
	return s.diskv.Has(id + keySfxKind), nil
}

// Write persists the artifact under id. Same-key writes overwrite.
func (s *Diskv) Write(_ context.Context, id string, artifact []byte, kind storage.Kind) error {
	if id == "" {
		return storage.ErrMissingID
	}
	if err := s.diskv.Write(id+keySfxArtifact, artifact); err != nil {
		return fmt.Errorf("writing artifact for %s: %w", id, err)
	}
	// kind written last so existence-checks only see complete writes.
	if err := s.diskv.Write(id+keySfxKind, []byte{byte(kind)}); err != nil {
		return fmt.Errorf("writing kind for %s: %w", id, err)
	}
	return nil
}

// Read returns the artifact and its kind for id.
func (s *Diskv) Read(_ context.Context, id string) ([]byte, storage.Kind, error) {
	if id == "" {
		return nil, 0, storage.ErrMissingID
	}
	if !s.diskv.Has(id + keySfxKind) {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	rawKind, err := s.diskv.Read(id + keySfxKind)
	if err != nil {
		return nil, 0, fmt.Errorf("reading kind for %s: %w", id, err)
	}
	if len(rawKind) != 1 {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	kind := storage.Kind(rawKind[0])
	if kind != storage.Success && kind != storage.Failure {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrInvalidKind, id)
	}
	artifact, err := s.diskv.Read(id + keySfxArtifact)
	if err != nil {
		return nil, 0, fmt.Errorf("reading artifact for %s: %w", id, err)
	}
	return artifact, kind, nil
}

// ScopedReadReference issues a signed expiring read reference for id.
func (s *Diskv) ScopedReadReference(ctx context.Context, id string, ttl time.Duration) (string, error) {
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
func (s *Diskv) ReadScoped(ctx context.Context, ref string) ([]byte, storage.Kind, error) {
	id, err := s.signer.Verify(ref)
	if err != nil {
		return nil, 0, err
	}
	return s.Read(ctx, id)
}
