package runtime

import (
	"errors"
	"fmt"
	"os"
)

var ErrRuntime = errors.New("runtime error")

// Manages scratch worktrees for stage execution.
type Runtime struct {
	root string // Parent directory for all worktrees, removed on Close.
}

// Creates a runtime with a fresh scratch root.
func New() (*Runtime, error) {
	root, err := os.MkdirTemp("", "kiln-worktrees-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return &Runtime{root: root}, nil
}

// Removes the scratch root and every worktree under it.
func (rt *Runtime) Close() error {
	return os.RemoveAll(rt.root)
}

// Creates an empty worktree directory.
func (rt *Runtime) Worktree() (string, error) {
	dir, err := os.MkdirTemp(rt.root, "stage-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return dir, nil
}

// Removes a worktree once its snapshot has been committed.
func (rt *Runtime) Release(dir string) {
	os.RemoveAll(dir)
}
