package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/kilnworks/kiln/internal/paths"
)

// A disk-backed [Store] shared across builds.
//
// Blobs live under root/blobs/<algorithm>/<encoded>, the OCI image layout
// convention. Writes go through a temporary file and a rename, so a blob
// path never holds partial content and concurrent writers of the same blob
// are last-writer-wins over identical bytes.
type DiskStore struct {
	root string
}

// Opens (creating if needed) a disk store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return &DiskStore{root: dir}, nil
}

// Stores the blob under its content digest. Writing a blob that already
// exists is a no-op.
func (d *DiskStore) WriteBlob(data []byte) (digest.Digest, error) {
	dgst := digest.FromBytes(data)
	path := d.blobPath(dgst)

	if _, err := os.Stat(path); err == nil {
		return dgst, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-blob-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}

	return dgst, nil
}

// Returns the blob stored under the digest.
func (d *DiskStore) ReadBlob(dgst digest.Digest) ([]byte, error) {
	data, err := os.ReadFile(d.blobPath(dgst))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: blob %s", errdefs.ErrNotFound, dgst)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return data, nil
}

func (d *DiskStore) blobPath(dgst digest.Digest) string {
	return filepath.Join(d.root, "blobs", string(dgst.Algorithm()), dgst.Encoded())
}
