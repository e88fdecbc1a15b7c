// Package blobstore is the namespaced key-value layer that holds donation
// records, payment claims and campaign aggregates. Every blob carries a
// version token so callers can do compare-and-swap writes.
package blobstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("blobstore: key not found")
	// ErrConflict is returned by PutIf when the stored version does not
	// match the expected one.
	ErrConflict = errors.New("blobstore: version conflict")
)

// Blob is a stored value and its version token. Version starts at 1 and
// increases by one on every write.
type Blob struct {
	Key       string
	Data      []byte
	Version   int64
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Store is a single namespace of a backend.
type Store interface {
	Get(ctx context.Context, key string) (*Blob, error)

	// Put writes unconditionally and returns the new version.
	Put(ctx context.Context, key string, data []byte, meta map[string]string) (int64, error)

	// PutIf writes only when the current version equals expected. An
	// expected version of 0 means the key must not exist yet.
	PutIf(ctx context.Context, key string, data []byte, meta map[string]string, expected int64) (int64, error)

	// List returns keys with the given prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Backend hands out namespaces over one physical store.
type Backend interface {
	Namespace(name string) Store
	Ping(ctx context.Context) error
	Close()
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
