package snapshot

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	dgst, err := store.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if dgst != digest.FromString("hello") {
		t.Fatalf("digest = %s, want content digest", dgst)
	}

	data, err := store.ReadBlob(dgst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want hello", data)
	}

	_, err = store.ReadBlob(digest.FromString("absent"))
	if !errdefs.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDiskStore(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	dgst, err := store.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	// Writing the same blob twice is a no-op.
	again, err := store.WriteBlob([]byte("hello"))
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if again != dgst {
		t.Fatalf("digest changed on rewrite: %s vs %s", again, dgst)
	}

	data, err := store.ReadBlob(dgst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want hello", data)
	}

	_, err = store.ReadBlob(digest.FromString("absent"))
	if !errdefs.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}
