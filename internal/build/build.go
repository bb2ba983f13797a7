package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/image"
	"github.com/kilnworks/kiln/internal/manifest"
	"github.com/kilnworks/kiln/internal/paths"
	"github.com/kilnworks/kiln/internal/runtime"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Executes run steps for the pipeline. Satisfied by [runtime.Runtime];
// tests substitute wrappers to observe executions.
type Runner interface {
	Exec(ctx context.Context, root, shell, command string, env []string, workdir string) (*runtime.ExecResult, error)
	Worktree() (string, error)
	Release(dir string)
}

// Controls pipeline execution.
type Options struct {
	Pipeline *manifest.Document // Expanded pipeline to execute.
	Context  string             // Build context root, for resolving copy sources.
	Target   string             // Stage to finalize; empty means the declared default.
	Output   string             // Directory for the exported image.
	Jobs     int                // Maximum stages built in parallel; 0 means unlimited.
	Store    snapshot.Store     // Snapshot store.
	Cache    cache.Store        // Step result cache.
}

// Returned after successful pipeline execution.
type Result struct {
	Output   string          // Directory containing the exported image.
	Artifact *image.Artifact // The finalized deliverable.
}

// Executes a pipeline end-to-end.
//
// The stage graph is validated and the deliverable stage resolved before
// anything executes, so structural errors surface eagerly with no cache
// writes. Stages then run in dependency order, and the target stage's
// final snapshot and metadata are exported to the output directory.
func Run(ctx context.Context, runner Runner, opts Options) (*Result, error) {
	graph, err := NewGraph(opts.Pipeline.Stages)
	if err != nil {
		return nil, err
	}

	target, err := image.DefaultStage(opts.Pipeline.Stages, opts.Target)
	if err != nil {
		return nil, err
	}

	slog.Info("executing pipeline",
		"stages", len(graph.Stages),
		"target", graph.Stages[target].Name,
		"output", opts.Output,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	p := newPipeline(runner, graph, opts)
	if err := p.execute(ctx); err != nil {
		return nil, err
	}

	res := p.results[target].res
	snap, err := snapshot.Read(opts.Store, res.Snapshot)
	if err != nil {
		return nil, err
	}

	artifact, err := image.Export(opts.Store, snap, res.Config, graph.Stages[target].Name, opts.Output)
	if err != nil {
		return nil, err
	}

	return &Result{Output: opts.Output, Artifact: artifact}, nil
}
