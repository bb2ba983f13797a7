package snapshot

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kilnworks/kiln/internal/paths"
)

// Scans a host directory tree into a snapshot, writing file contents to the
// store.
//
// Regular files and symlinks are recorded; directories are implied and
// other file types are skipped. Paths are keyed relative to dir, rooted at
// "/".
func Scan(store Store, dir string) (Snapshot, error) {
	snap := make(Snapshot)

	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := "/" + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			snap[key] = File{Mode: uint32(info.Mode().Perm()), Link: target}

		case info.Mode().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			dgst, err := store.WriteBlob(data)
			if err != nil {
				return err
			}
			snap[key] = File{Digest: dgst, Mode: uint32(info.Mode().Perm()), Size: info.Size()}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	return snap, nil
}

// Scans a host file or directory into a subtree snapshot.
//
// The result follows the [Snapshot.Extract] convention: a file scans to a
// single "/" entry, a directory scans to its contents, ready to be placed
// with [Snapshot.Overlay].
func ScanPath(store Store, hostPath string) (Snapshot, error) {
	info, err := os.Lstat(hostPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrPathNotFound, hostPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	if info.IsDir() {
		return Scan(store, hostPath)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	dgst, err := store.WriteBlob(data)
	if err != nil {
		return nil, err
	}
	return Snapshot{"/": File{Digest: dgst, Mode: uint32(info.Mode().Perm()), Size: info.Size()}}, nil
}

// Materializes a snapshot into a host directory.
//
// Files are written with their recorded permission bits and symlinks are
// recreated. Parent directories are created as needed.
func Checkout(store Store, snap Snapshot, dir string) error {
	for _, p := range snap.Paths() {
		f := snap[p]
		host := hostPath(dir, p)

		if err := os.MkdirAll(filepath.Dir(host), paths.DefaultDirMode); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}

		if f.Link != "" {
			if err := os.Symlink(f.Link, host); err != nil {
				return fmt.Errorf("%w: %v", ErrStore, err)
			}
			continue
		}

		data, err := store.ReadBlob(f.Digest)
		if err != nil {
			return err
		}
		if err := os.WriteFile(host, data, os.FileMode(f.Mode)); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
	}
	return nil
}

// Maps an absolute snapshot path to a location under a host root.
func hostPath(root, p string) string {
	p = path.Clean("/" + p)
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}
