// Package manifest defines the pipeline document and its parsing rules.
//
// A pipeline is a YAML document declaring build parameters and an ordered
// list of named stages. Each stage names a base filesystem and an ordered
// list of steps: shell commands, file copies (from the build context or
// from an earlier stage), and metadata modifiers (environment, working
// directory, user, exposed ports, entrypoint, shell).
//
// Parsing is pure: Parse validates structure and syntax without touching
// the filesystem. Declared parameters are resolved against caller
// overrides by ResolveArgs, and Expand substitutes ${NAME} references
// throughout the document exactly once per build.
package manifest
