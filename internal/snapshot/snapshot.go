package snapshot

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/opencontainers/go-digest"
)

// A single entry in a snapshot: a regular file or a symlink.
type File struct {
	Digest digest.Digest `json:"digest,omitempty"` // Content digest; empty for symlinks.
	Mode   uint32        `json:"mode"`             // Permission bits.
	Size   int64         `json:"size,omitempty"`   // Content size in bytes.
	Link   string        `json:"link,omitempty"`   // Symlink target; empty for regular files.
}

// An immutable filesystem tree: absolute slash-separated paths mapped to
// entries. Directories are implied by the paths of the files they contain.
type Snapshot map[string]File

// Returns the snapshot's paths in sorted order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Extracts the subtree rooted at p.
//
// The result is rebased so the extracted node sits at the root: extracting
// a single file yields a snapshot with one "/" entry, extracting a
// directory yields its contents keyed relative to it. Fails with
// [ErrPathNotFound] when p names neither a file nor a directory prefix.
func (s Snapshot) Extract(p string) (Snapshot, error) {
	p = path.Clean("/" + p)

	if p == "/" {
		out := make(Snapshot, len(s))
		for k, f := range s {
			out[k] = f
		}
		return out, nil
	}

	if f, ok := s[p]; ok {
		return Snapshot{"/": f}, nil
	}

	prefix := p + "/"
	out := make(Snapshot)
	for k, f := range s {
		if rest, ok := cutPrefix(k, prefix); ok {
			out["/"+rest] = f
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrPathNotFound, p)
	}
	return out, nil
}

// Returns a new snapshot with sub placed at dest.
//
// A sub rooted at "/" (a single extracted file) lands exactly at dest;
// otherwise every entry of sub is joined beneath dest. Existing entries at
// colliding paths are replaced; the receiver is not modified.
func (s Snapshot) Overlay(sub Snapshot, dest string) Snapshot {
	dest = path.Clean("/" + dest)

	out := make(Snapshot, len(s)+len(sub))
	for k, f := range s {
		out[k] = f
	}
	for k, f := range sub {
		if k == "/" {
			out[dest] = f
			continue
		}
		out[path.Join(dest, k)] = f
	}
	return out
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// Serializes the snapshot canonically and writes it to the store, returning
// the snapshot's digest. Equal trees always produce equal digests.
func Write(store Store, s Snapshot) (digest.Digest, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStore, err)
	}
	return store.WriteBlob(data)
}

// Loads a snapshot previously written with [Write].
func Read(store Store, dgst digest.Digest) (Snapshot, error) {
	data, err := store.ReadBlob(dgst)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return s, nil
}
