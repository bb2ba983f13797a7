// Package image finalizes a build into a deliverable OCI archive.
//
// The deliverable stage is resolved by DefaultStage: an explicit target
// wins, then the stage marked default, then the last declared stage.
// Export takes that stage's final snapshot and accumulated runtime
// metadata (entrypoint, user, working directory, exposed ports,
// environment) and writes an OCI image archive: a single deterministic
// layer tar, an image config, a manifest, and a one-entry index, packed
// as image.tar in the output directory. The archive is reproducible: the
// same snapshot and metadata always produce byte-identical output.
package image
