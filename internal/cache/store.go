package cache

import (
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// The recorded outcome of one operation: the filesystem snapshot and the
// runtime metadata accumulated up to and including it.
type Result struct {
	Snapshot digest.Digest       `json:"snapshot"`        // Digest of the snapshot after the operation.
	Config   ocispec.ImageConfig `json:"config"`          // Runtime metadata after the operation.
	Shell    string              `json:"shell,omitempty"` // Effective shell for subsequent run operations.
}

// Maps operation keys to recorded results.
//
// Get fails with [errdefs.ErrNotFound] on a miss. Put is insert-on-miss:
// an existing entry is never overwritten, since equal keys imply equal
// results.
type Store interface {
	Get(key Key) (Result, error)
	Put(key Key, res Result) error
}

// An in-memory [Store], used by tests and throwaway builds.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[Key]Result
}

// Creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[Key]Result)}
}

// Returns the result recorded under the key.
func (m *MemoryStore) Get(key Key) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[key]
	if !ok {
		return Result{}, fmt.Errorf("%w: key %s", errdefs.ErrNotFound, key)
	}
	return res, nil
}

// Records the result unless the key already has one.
func (m *MemoryStore) Put(key Key, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.results[key]; !ok {
		m.results[key] = res
	}
	return nil
}
