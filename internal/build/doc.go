// Package build orchestrates pipeline execution over the snapshot store.
//
// A pipeline is an ordered sequence of named stages, each starting from a
// base filesystem snapshot. The stage graph validates cross-stage copy
// references and yields a topological order; independent stages execute
// in parallel, joined only where one stage copies from another. Within a
// stage, steps apply strictly in order to an accumulated snapshot and
// runtime metadata, with a running cache key deciding per step whether a
// previously recorded result can be adopted instead of executing.
//
// Run commands are delegated to the runtime package; copies are logical
// snapshot merges and never touch a worktree. The finalized target stage
// is exported by the image package.
//
// Example usage:
//
//	result, err := build.Run(ctx, rt, build.Options{
//	    Pipeline: doc,
//	    Context:  ".",
//	    Output:   "dist",
//	    Store:    store,
//	    Cache:    cacheStore,
//	})
//	if err != nil {
//	    return err
//	}
package build
