// Package inmem implements an in-memory result storage backend.
package inmem

import (
	"github.com/replyq/replyq/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory result storage backend.
type InMem struct {
	*kv.KV
}

// New creates a new in-memory result storage backend.
func New(secret []byte) *InMem {
	return &InMem{KV: kv.New(kvmap.New(), secret)}
}
