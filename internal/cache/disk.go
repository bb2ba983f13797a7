package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"

	"github.com/kilnworks/kiln/internal/paths"
)

// A disk-backed [Store] shared across builds.
//
// Results live under root/results/<algorithm>/<encoded>.json next to the
// blob store. Writes go through a temporary file and a rename so an entry
// never holds a partial result, which keeps interrupted builds retryable.
type DiskStore struct {
	root string
}

// Opens (creating if needed) a disk store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "results"), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return &DiskStore{root: dir}, nil
}

// Returns the result recorded under the key.
func (d *DiskStore) Get(key Key) (Result, error) {
	data, err := os.ReadFile(d.resultPath(key))
	if os.IsNotExist(err) {
		return Result{}, fmt.Errorf("%w: key %s", errdefs.ErrNotFound, key)
	}
	if err != nil {
		return Result{}, fmt.Errorf("cache store: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("cache store: %w", err)
	}
	return res, nil
}

// Records the result unless the key already has one.
func (d *DiskStore) Put(key Key, res Result) error {
	path := d.resultPath(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-result-*")
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func (d *DiskStore) resultPath(key Key) string {
	dgst := key.Digest()
	return filepath.Join(d.root, "results", string(dgst.Algorithm()), dgst.Encoded()+".json")
}
