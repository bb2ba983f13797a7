// Package snapshot provides content-addressed filesystem snapshots.
//
// A [Snapshot] is an immutable description of a filesystem tree: a mapping
// from absolute slash-separated paths to file entries whose contents live
// in a [Store] as digest-addressed blobs. Stages never share a live
// directory tree; each operation produces a new snapshot, so concurrent
// stages can read the same producer snapshot without ever observing an
// in-progress write.
//
// Snapshots are serialized canonically and stored as blobs themselves,
// which gives every tree a deterministic digest. Extract and Overlay
// implement cross-stage promotion as pure map operations: copying a
// subtree moves references, never bytes.
//
// Example usage:
//
//	store, err := snapshot.NewDiskStore(dir)
//	if err != nil {
//	    return err
//	}
//
//	snap, err := snapshot.Scan(store, worktree)
//	if err != nil {
//	    return err
//	}
//
//	sub, err := snap.Extract("/out")
//	if err != nil {
//	    return err
//	}
//	merged := consumer.Overlay(sub, "/deps")
package snapshot
