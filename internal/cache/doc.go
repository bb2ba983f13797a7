// Package cache implements the build cache shared across builds.
//
// Every operation of every stage is identified by a [Key]: a running
// digest over the stage's base filesystem identity and the canonical
// content of every operation up to and including the current one,
// including the content digests of anything the operation copies. Two
// builds computing the same key are guaranteed identical results, so a
// recorded [Result] (the snapshot digest and runtime metadata after the
// operation) can be adopted without re-execution.
//
// The [Store] is insert-on-miss: an existing key is never overwritten,
// and concurrent writers racing on the same key are harmless because
// content-determinism makes their payloads identical.
package cache
