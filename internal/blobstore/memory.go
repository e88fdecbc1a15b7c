package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps blobs in process memory. It backs local development
// and tests; data does not survive a restart.
type MemoryBackend struct {
	mu    sync.Mutex
	blobs map[string]map[string]*Blob
	now   func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string]map[string]*Blob),
		now:   time.Now,
	}
}

func (b *MemoryBackend) Namespace(name string) Store {
	return &memoryStore{backend: b, ns: name}
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (b *MemoryBackend) Close() {}

type memoryStore struct {
	backend *MemoryBackend
	ns      string
}

func (s *memoryStore) Get(ctx context.Context, key string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.blobs[s.ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBlob(stored), nil
}

func (s *memoryStore) Put(ctx context.Context, key string, data []byte, meta map[string]string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	var version int64 = 1
	if stored, ok := b.blobs[s.ns][key]; ok {
		version = stored.Version + 1
	}
	s.writeLocked(key, data, meta, version)
	return version, nil
}

func (s *memoryStore) PutIf(ctx context.Context, key string, data []byte, meta map[string]string, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	var current int64
	if stored, ok := b.blobs[s.ns][key]; ok {
		current = stored.Version
	}
	if current != expected {
		return 0, ErrConflict
	}
	s.writeLocked(key, data, meta, expected+1)
	return expected + 1, nil
}

func (s *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k := range b.blobs[s.ns] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// writeLocked must be called with the backend mutex held.
func (s *memoryStore) writeLocked(key string, data []byte, meta map[string]string, version int64) {
	b := s.backend
	ns, ok := b.blobs[s.ns]
	if !ok {
		ns = make(map[string]*Blob)
		b.blobs[s.ns] = ns
	}
	ns[key] = &Blob{
		Key:       key,
		Data:      append([]byte(nil), data...),
		Version:   version,
		Metadata:  copyMeta(meta),
		UpdatedAt: b.now().UTC(),
	}
}

func cloneBlob(b *Blob) *Blob {
	return &Blob{
		Key:       b.Key,
		Data:      append([]byte(nil), b.Data...),
		Version:   b.Version,
		Metadata:  copyMeta(b.Metadata),
		UpdatedAt: b.UpdatedAt,
	}
}
