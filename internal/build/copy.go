package build

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/kilnworks/kiln/internal/manifest"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Resolves a copy step to the subtree it transfers.
//
// The copy string has the format "src dest" for context copies, or
// "stage:src dest" for cross-stage copies. Context sources are resolved
// relative to the build context and scanned into the store. Cross-stage
// sources block until the producer stage completes, then extract the
// subtree from its frozen snapshot; a failed producer yields
// [ErrUpstreamFailed] without attempting the copy. The subtree's digest
// feeds the operation's cache key, so a changed source always misses.
func (p *pipeline) resolveCopy(ctx context.Context, step manifest.Step, state *configState) (snapshot.Snapshot, string, digest.Digest, error) {
	_, workdir, _ := state.resolve(step)

	src, dest, err := parseCopy(step.Copy, workdir)
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: %v", ErrCopy, err)
	}

	var sub snapshot.Snapshot
	if stage, path, ok := parseStageCopy(src); ok {
		sub, err = p.promote(ctx, stage, path)
	} else {
		sub, err = p.scanContext(src)
	}
	if err != nil {
		return nil, "", "", err
	}

	subDigest, err := snapshot.Write(p.store, sub)
	if err != nil {
		return nil, "", "", err
	}

	return sub, dest, subDigest, nil
}

// Extracts a subtree from a completed producer stage's snapshot.
func (p *pipeline) promote(ctx context.Context, stage, path string) (snapshot.Snapshot, error) {
	res, err := p.await(ctx, stage)
	if err != nil {
		return nil, err
	}

	producer, err := snapshot.Read(p.store, res.Snapshot)
	if err != nil {
		return nil, err
	}

	slog.Debug("cross-stage copy", "stage", stage, "src", path)

	sub, err := producer.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stage %q: %w", ErrCopy, stage, err)
	}
	return sub, nil
}

// Scans a file or directory from the build context into the store.
func (p *pipeline) scanContext(src string) (snapshot.Snapshot, error) {
	hostSrc := src
	if !filepath.IsAbs(hostSrc) {
		hostSrc = filepath.Join(p.context, hostSrc)
	}

	slog.Debug("context copy", "src", hostSrc)

	sub, err := snapshot.ScanPath(p.store, hostSrc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCopy, err)
	}
	return sub, nil
}

// Parses a cross-stage copy source of the form "stage:path".
//
// Returns the stage name, the path within the stage, and true if the source
// matches the cross-stage format. Returns false if it is a regular context
// path.
func parseStageCopy(src string) (stage, path string, ok bool) {
	i := strings.IndexByte(src, ':')
	if i < 1 {
		return "", "", false
	}

	// A colon after a path separator is not a stage prefix (e.g. "/foo:bar").
	if strings.ContainsRune(src[:i], '/') {
		return "", "", false
	}

	return src[:i], src[i+1:], true
}

// Parses a copy string into source and destination paths.
//
// The string must contain exactly two whitespace-separated tokens. If dest
// is not absolute, it is joined with workdir.
func parseCopy(s, workdir string) (src, dest string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expected source and destination, got %q", s)
	}

	src = parts[0]
	dest = parts[1]

	if !filepath.IsAbs(dest) {
		if workdir == "" {
			return "", "", fmt.Errorf("relative dest %q requires workdir", dest)
		}
		dest = filepath.Join(workdir, dest)
	}

	return src, dest, nil
}
