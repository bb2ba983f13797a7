package cache

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

// Separates key components in the digest input. NUL cannot appear in
// operation text or digest strings, so components never bleed into each
// other.
const keySep = "\x00"

// A deterministic fingerprint of an operation and everything it depends
// on: the stage's base identity and the content of every prior operation
// in the stage.
type Key digest.Digest

// Derives the root key for a stage from its base filesystem reference and
// the digest of the base snapshot.
func NewKey(base string, snap digest.Digest) Key {
	return Key(digest.FromString("base" + keySep + base + keySep + snap.String()))
}

// Derives the key for the next operation by folding the operation's
// canonical content into the running key.
func (k Key) Extend(parts ...string) Key {
	return Key(digest.FromString(string(k) + keySep + strings.Join(parts, keySep)))
}

// Returns the key as a digest for storage addressing.
func (k Key) Digest() digest.Digest {
	return digest.Digest(k)
}

func (k Key) String() string {
	return string(k)
}
