package build

import (
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/manifest"
)

// Default shell used for run steps when no shell modifier has been set.
const defaultShell = "/bin/sh"

// Tracks accumulated runtime metadata during step execution.
//
// State flows linearly through the step list. Standalone modifier steps
// update the state permanently via apply; operations read the effective
// values for a single step via resolve without modifying the persistent
// state. The metadata is the image config that finalization bakes into
// the artifact, last write wins per field.
type configState struct {
	cfg   ocispec.ImageConfig
	shell string
}

// Creates a new [configState] with default values.
func newConfigState() *configState {
	return &configState{shell: defaultShell}
}

// Reconstructs the state recorded in a cached result.
func stateFrom(res cache.Result) *configState {
	s := &configState{cfg: cloneConfig(res.Config), shell: res.Shell}
	if s.shell == "" {
		s.shell = defaultShell
	}
	return s
}

// Persists modifier fields from a step into the state.
//
// Called for standalone modifier steps. The state is mutated permanently,
// affecting all subsequent steps and the finalized metadata.
func (s *configState) apply(step manifest.Step) {
	if step.Shell != "" {
		s.shell = step.Shell
	}
	if step.Workdir != "" {
		s.cfg.WorkingDir = step.Workdir
	}
	if step.User != "" {
		s.cfg.User = step.User
	}

	for _, k := range sortedKeys(step.Env) {
		s.cfg.Env = setEnv(s.cfg.Env, k, step.Env[k])
	}

	if step.Expose != "" {
		// Validated at parse time; normalization cannot fail here.
		port, err := manifest.NormalizePort(string(step.Expose))
		if err == nil {
			if s.cfg.ExposedPorts == nil {
				s.cfg.ExposedPorts = make(map[string]struct{})
			}
			s.cfg.ExposedPorts[port] = struct{}{}
		}
	}

	if len(step.Entrypoint) > 0 {
		s.cfg.Entrypoint = append([]string(nil), step.Entrypoint...)
		s.cfg.Cmd = nil
	}
}

// Returns the effective shell, working directory, and environment for one
// operation, with step-level modifiers overlaid on the persistent state.
// The receiver is not modified.
func (s *configState) resolve(step manifest.Step) (shell, workdir string, env []string) {
	shell = s.shell
	if step.Shell != "" {
		shell = step.Shell
	}

	workdir = s.cfg.WorkingDir
	if step.Workdir != "" {
		workdir = step.Workdir
	}

	env = append([]string(nil), s.cfg.Env...)
	for _, k := range sortedKeys(step.Env) {
		env = setEnv(env, k, step.Env[k])
	}

	return shell, workdir, env
}

// Captures the state alongside a snapshot digest as a cacheable result.
func (s *configState) result(snap digest.Digest) cache.Result {
	return cache.Result{
		Snapshot: snap,
		Config:   cloneConfig(s.cfg),
		Shell:    s.shell,
	}
}

// Replaces an existing "key=value" entry or appends a new one, preserving
// first-set ordering so the finalized env list is deterministic.
func setEnv(env []string, k, v string) []string {
	prefix := k + "="
	for i, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			out := append([]string(nil), env...)
			out[i] = prefix + v
			return out
		}
	}
	return append(append([]string(nil), env...), prefix+v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deep-copies an image config so cached results never alias live state.
func cloneConfig(cfg ocispec.ImageConfig) ocispec.ImageConfig {
	out := cfg
	out.Env = append([]string(nil), cfg.Env...)
	out.Entrypoint = append([]string(nil), cfg.Entrypoint...)
	out.Cmd = append([]string(nil), cfg.Cmd...)
	if cfg.ExposedPorts != nil {
		out.ExposedPorts = make(map[string]struct{}, len(cfg.ExposedPorts))
		for p := range cfg.ExposedPorts {
			out.ExposedPorts[p] = struct{}{}
		}
	}
	return out
}
