package artifacts

import (
	"context"
	"sync"

	"github.com/kestrelflow/engine/pkg/ids"
)

// MemBlobStore is an in-memory BlobStore, used by unit tests and by
// ephemeral (non-durable) engine runs.
type MemBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemBlobStore creates an empty in-memory blob store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{blobs: make(map[string][]byte)}
}

// Put stores data under its content hash.
func (m *MemBlobStore) Put(_ context.Context, data []byte) (string, error) {
	hash := ids.HashBytes(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[hash] = cp
	}
	return hash, nil
}

// Get returns the bytes for hash.
func (m *MemBlobStore) Get(_ context.Context, hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Has reports whether hash is present.
func (m *MemBlobStore) Has(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[hash]
	return ok, nil
}
