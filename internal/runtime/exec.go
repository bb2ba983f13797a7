package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kilnworks/kiln/internal/paths"
)

// Output of a command execution inside a worktree.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Runs a command inside a worktree.
//
// The command is passed to the shell as a single argument via "shell -c
// command". The working directory is resolved beneath root (a workdir of
// "/app" maps to root/app) and created if missing. env entries are layered
// over the host environment for this execution only. A non-zero exit code
// is not treated as an error; the caller decides.
func (rt *Runtime) Exec(ctx context.Context, root, shell, command string, env []string, workdir string) (*ExecResult, error) {
	dir := root
	if workdir != "" {
		dir = filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(workdir, "/")))
		if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
		}
	}

	slog.Debug("exec", "shell", shell, "command", command, "dir", dir)

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
		}
	}

	return &ExecResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))

	set := func(entries []string) {
		for _, entry := range entries {
			k, v, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if _, seen := merged[k]; !seen {
				order = append(order, k)
			}
			merged[k] = v
		}
	}
	set(base)
	set(overrides)

	result := make([]string, 0, len(merged))
	for _, k := range order {
		result = append(result, k+"="+merged[k])
	}
	return result
}
