// Package runtime executes run operations against materialized worktrees.
//
// A [Runtime] owns a scratch directory in which stage snapshots are
// checked out before a command runs. Commands execute on the host via the
// stage's shell with the stage environment layered over the host
// environment; the worktree's contents after the command are scanned back
// into a snapshot by the caller. A non-zero exit code is reported in the
// [ExecResult], not as an error; the executor decides how to handle it.
//
// Example usage:
//
//	rt, err := runtime.New()
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	root, err := rt.Worktree()
//	if err != nil {
//	    return err
//	}
//
//	result, err := rt.Exec(ctx, root, "/bin/sh", "make all", env, "/app")
//	if err != nil {
//	    return err
//	}
package runtime
