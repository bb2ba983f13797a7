package build

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Holds shared state for executing all stages of a pipeline.
type pipeline struct {
	runner  Runner         // Executes run steps against worktrees.
	store   snapshot.Store // Content-addressed snapshot store.
	cache   cache.Store    // Step result cache, shared across builds.
	context string         // Build context root for resolving copy sources.
	jobs    int            // Maximum stages executing in parallel; 0 means unlimited.
	graph   *Graph         // Validated stage graph.
	results []*stageResult // One slot per stage, indexed by declaration order.
}

// The terminal state of one stage's execution.
//
// done closes when the stage finishes, successfully or not; consumers of
// cross-stage copies block on it before reading res or err.
type stageResult struct {
	done chan struct{}
	res  cache.Result
	err  error
}

// Creates a new [pipeline] for a validated graph.
func newPipeline(runner Runner, graph *Graph, opts Options) *pipeline {
	results := make([]*stageResult, len(graph.Stages))
	for i := range results {
		results[i] = &stageResult{done: make(chan struct{})}
	}
	return &pipeline{
		runner:  runner,
		store:   opts.Store,
		cache:   opts.Cache,
		context: opts.Context,
		jobs:    opts.Jobs,
		graph:   graph,
		results: results,
	}
}

// Executes every stage of the pipeline.
//
// Stages are launched in topological order so a consumer never starts
// before its producers; independent stages run concurrently up to the
// jobs limit. A failing stage halts its downstream consumers (their
// cross-stage copies observe the failure) but never cancels independent
// siblings already in flight; the returned error is the union of every
// stage failure.
func (p *pipeline) execute(ctx context.Context) error {
	var g errgroup.Group
	if p.jobs > 0 {
		g.SetLimit(p.jobs)
	}

	for _, idx := range p.graph.Order() {
		idx := idx
		sr := p.results[idx]
		g.Go(func() error {
			defer close(sr.done)
			sr.res, sr.err = p.buildStage(ctx, idx)
			return nil
		})
	}
	g.Wait()

	var errs []error
	for i, sr := range p.results {
		if sr.err != nil {
			errs = append(errs, fmt.Errorf("%w: stage %q: %w", ErrBuild, p.graph.Stages[i].Name, sr.err))
		}
	}
	return errors.Join(errs...)
}

// Blocks until the named stage completes and returns its result.
//
// A failed producer yields [ErrUpstreamFailed] so the consumer's copy
// fails without attempting execution.
func (p *pipeline) await(ctx context.Context, name string) (cache.Result, error) {
	idx, ok := p.graph.Index(name)
	if !ok {
		// The graph validated every reference; this is unreachable.
		return cache.Result{}, fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}

	sr := p.results[idx]
	select {
	case <-sr.done:
	case <-ctx.Done():
		return cache.Result{}, ctx.Err()
	}

	if sr.err != nil {
		return cache.Result{}, fmt.Errorf("%w: %q", ErrUpstreamFailed, name)
	}
	return sr.res, nil
}

// Resolves a stage's base filesystem reference to a snapshot.
//
// "scratch" (or an empty reference) is the empty snapshot; anything else
// names a host directory, resolved relative to the build context, that is
// scanned into the store.
func (p *pipeline) baseSnapshot(from string) (snapshot.Snapshot, error) {
	if from == "" || from == "scratch" {
		return snapshot.Snapshot{}, nil
	}
	return p.scanContext(from)
}
