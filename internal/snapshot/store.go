package snapshot

import (
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
)

// A content-addressed blob store.
//
// Blobs are keyed by the digest of their content, so writes are idempotent
// and concurrent writers computing the same blob are safe without
// coordination. ReadBlob fails with [errdefs.ErrNotFound] when the digest
// is unknown.
type Store interface {
	WriteBlob(data []byte) (digest.Digest, error)
	ReadBlob(dgst digest.Digest) ([]byte, error)
}

// An in-memory [Store], used by tests and throwaway builds.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[digest.Digest][]byte
}

// Creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[digest.Digest][]byte)}
}

// Stores the blob under its content digest.
func (m *MemoryStore) WriteBlob(data []byte) (digest.Digest, error) {
	dgst := digest.FromBytes(data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[dgst]; !ok {
		buf := make([]byte, len(data))
		copy(buf, data)
		m.blobs[dgst] = buf
	}
	return dgst, nil
}

// Returns the blob stored under the digest.
func (m *MemoryStore) ReadBlob(dgst digest.Digest) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[dgst]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", errdefs.ErrNotFound, dgst)
	}
	return data, nil
}
