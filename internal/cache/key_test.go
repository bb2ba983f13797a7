package cache

import (
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestNewKey(t *testing.T) {
	snap := digest.FromString("base-snapshot")

	a := NewKey("scratch", snap)
	b := NewKey("scratch", snap)
	if a != b {
		t.Fatalf("equal inputs produced different keys: %s vs %s", a, b)
	}

	if NewKey("other", snap) == a {
		t.Fatal("different base references produced the same key")
	}
	if NewKey("scratch", digest.FromString("other")) == a {
		t.Fatal("different base snapshots produced the same key")
	}
}

func TestExtend(t *testing.T) {
	base := NewKey("scratch", digest.FromString("base"))

	a := base.Extend("run=make\n")
	b := base.Extend("run=make\n")
	if a != b {
		t.Fatalf("equal extensions produced different keys: %s vs %s", a, b)
	}

	if base.Extend("run=make clean\n") == a {
		t.Fatal("different content produced the same key")
	}
	if a == base {
		t.Fatal("extension did not change the key")
	}

	// Order matters: extending with X then Y differs from Y then X.
	xy := base.Extend("x").Extend("y")
	yx := base.Extend("y").Extend("x")
	if xy == yx {
		t.Fatal("extension order did not affect the key")
	}
}

func TestExtendMultipleParts(t *testing.T) {
	base := NewKey("scratch", digest.FromString("base"))

	// Two parts in one call differ from their concatenation.
	joined := base.Extend("ab")
	split := base.Extend("a", "b")
	if joined == split {
		t.Fatal("part boundaries did not affect the key")
	}
}

func TestKeyDigest(t *testing.T) {
	k := NewKey("scratch", digest.FromString("base"))
	if err := k.Digest().Validate(); err != nil {
		t.Fatalf("key is not a valid digest: %v", err)
	}
	if k.String() != string(k.Digest()) {
		t.Fatal("String and Digest disagree")
	}
}
