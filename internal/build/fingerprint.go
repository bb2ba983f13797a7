package build

import (
	"strings"

	"github.com/kilnworks/kiln/internal/manifest"
)

// Returns the canonical content of a step for cache-key derivation.
//
// Every field participates, with map fields serialized in sorted key
// order, so two steps have equal fingerprints exactly when they would
// behave identically. Parameter references are already substituted by the
// time a step reaches the executor, so resolved parameter values are part
// of the content.
func fingerprint(step manifest.Step) string {
	var b strings.Builder

	field := func(name, value string) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	field("run", step.Run)
	field("copy", step.Copy)
	field("shell", step.Shell)
	field("workdir", step.Workdir)
	field("user", step.User)
	field("expose", string(step.Expose))
	field("entrypoint", strings.Join(step.Entrypoint, "\x1f"))

	for _, k := range sortedKeys(step.Env) {
		field("env."+k, step.Env[k])
	}

	return b.String()
}
