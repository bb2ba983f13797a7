package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/manifest"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Executes a single stage, returning its final snapshot and metadata.
//
// Steps apply strictly in order over an accumulated (snapshot, config)
// state and a running cache key. While no miss has occurred, each step's
// key is looked up and a recorded result is adopted instead of executing;
// after the first miss every later step executes (cache invalidation is
// prefix-strict). Each executed step is recorded under its key before the
// next begins, and the context is checked at every step boundary so a
// cancelled build never records a partially applied step.
func (p *pipeline) buildStage(ctx context.Context, idx int) (cache.Result, error) {
	stage := p.graph.Stages[idx]
	slog.Info(fmt.Sprintf("building stage %q", stage.Name), "steps", len(stage.Steps))

	base, err := p.baseSnapshot(stage.From)
	if err != nil {
		return cache.Result{}, err
	}
	baseDigest, err := snapshot.Write(p.store, base)
	if err != nil {
		return cache.Result{}, err
	}

	key := cache.NewKey(stage.From, baseDigest)
	state := newConfigState()
	cur := state.result(baseDigest)
	snap := base
	missed := false

	for i, step := range stage.Steps {
		if err := ctx.Err(); err != nil {
			return cache.Result{}, err
		}

		// Resolve copy sources first: the subtree digest is part of the
		// step's cache key, so a changed source can never hit.
		var sub snapshot.Snapshot
		var dest string
		content := []string{fingerprint(step)}
		if step.Copy != "" {
			var subDigest digest.Digest
			sub, dest, subDigest, err = p.resolveCopy(ctx, step, state)
			if err != nil {
				return cache.Result{}, fmt.Errorf("step %d: %w", i+1, err)
			}
			content = append(content, subDigest.String())
		}
		key = key.Extend(content...)

		if !missed {
			res, err := p.cache.Get(key)
			if err == nil {
				slog.Debug("cache hit", "stage", stage.Name, "step", i+1)
				cur = res
				state = stateFrom(res)
				snap = nil
				continue
			}
			if !errdefs.IsNotFound(err) {
				return cache.Result{}, err
			}
			missed = true
		}

		// The previous step may have been a cache hit whose snapshot was
		// never loaded.
		if snap == nil {
			if snap, err = snapshot.Read(p.store, cur.Snapshot); err != nil {
				return cache.Result{}, err
			}
		}

		switch {
		case step.Run != "":
			snap, err = p.runStep(ctx, stage, i, step, state, snap)
			if err != nil {
				return cache.Result{}, err
			}

		case step.Copy != "":
			snap = snap.Overlay(sub, dest)

		default:
			state.apply(step)
		}

		snapDigest, err := snapshot.Write(p.store, snap)
		if err != nil {
			return cache.Result{}, err
		}
		cur = state.result(snapDigest)

		if err := p.cache.Put(key, cur); err != nil {
			return cache.Result{}, err
		}
	}

	return cur, nil
}

// Executes a run step against a worktree materialized from the current
// snapshot and commits the result back into the store.
func (p *pipeline) runStep(ctx context.Context, stage manifest.Stage, i int, step manifest.Step, state *configState, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	shell, workdir, env := state.resolve(step)

	root, err := p.runner.Worktree()
	if err != nil {
		return nil, err
	}
	defer p.runner.Release(root)

	if err := snapshot.Checkout(p.store, snap, root); err != nil {
		return nil, err
	}

	slog.Debug("run", "stage", stage.Name, "command", step.Run, "shell", shell)

	result, err := p.runner.Exec(ctx, root, shell, step.Run, env, workdir)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, &StageError{
			Stage:    stage.Name,
			Step:     i + 1,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	return snapshot.Scan(p.store, root)
}
