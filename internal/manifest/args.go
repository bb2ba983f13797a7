package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Matches ${NAME} parameter references inside step fields.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolves declared parameters against caller overrides.
//
// For each declared parameter the override wins, then the default. A
// parameter with neither, or an override for a name the pipeline never
// declares, fails with [ErrUnresolvedParameter]. The result is the single
// parameter set used verbatim by every stage of the build; parameters are
// never re-resolved per stage.
func ResolveArgs(declared map[string]*string, overrides map[string]string) (map[string]string, error) {
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]string, len(declared))
	for _, name := range names {
		if v, ok := overrides[name]; ok {
			resolved[name] = v
			continue
		}
		if def := declared[name]; def != nil {
			resolved[name] = *def
			continue
		}
		return nil, fmt.Errorf("%w: %q has no override and no default", ErrUnresolvedParameter, name)
	}

	extra := make([]string, 0)
	for name := range overrides {
		if _, ok := declared[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fmt.Errorf("%w: %q is not declared by the pipeline", ErrUnresolvedParameter, extra[0])
	}

	return resolved, nil
}

// Substitutes ${NAME} references throughout the document using the resolved
// parameter set.
//
// Returns a new document; the input is not modified. A reference to a name
// absent from params fails with [ErrUnresolvedParameter], so every reference
// is guaranteed to resolve before any stage executes.
func Expand(doc *Document, params map[string]string) (*Document, error) {
	out := &Document{
		Args:   doc.Args,
		Stages: make([]Stage, len(doc.Stages)),
	}

	for i, stage := range doc.Stages {
		expanded, err := expandStage(stage, params)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.Name, err)
		}
		out.Stages[i] = expanded
	}
	return out, nil
}

func expandStage(stage Stage, params map[string]string) (Stage, error) {
	out := stage
	out.Steps = make([]Step, len(stage.Steps))

	var err error
	if out.From, err = expandString(stage.From, params); err != nil {
		return Stage{}, err
	}

	for i, step := range stage.Steps {
		expanded, err := expandStep(step, params)
		if err != nil {
			return Stage{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		out.Steps[i] = expanded
	}
	return out, nil
}

func expandStep(step Step, params map[string]string) (Step, error) {
	out := step

	fields := []struct {
		dst *string
		src string
	}{
		{&out.Run, step.Run},
		{&out.Copy, step.Copy},
		{&out.Shell, step.Shell},
		{&out.Workdir, step.Workdir},
		{&out.User, step.User},
	}
	for _, f := range fields {
		v, err := expandString(f.src, params)
		if err != nil {
			return Step{}, err
		}
		*f.dst = v
	}

	expose, err := expandString(string(step.Expose), params)
	if err != nil {
		return Step{}, err
	}
	out.Expose = Port(expose)

	if len(step.Env) > 0 {
		out.Env = make(map[string]string, len(step.Env))
		for k, v := range step.Env {
			expanded, err := expandString(v, params)
			if err != nil {
				return Step{}, err
			}
			out.Env[k] = expanded
		}
	}

	if len(step.Entrypoint) > 0 {
		out.Entrypoint = make([]string, len(step.Entrypoint))
		for i, arg := range step.Entrypoint {
			expanded, err := expandString(arg, params)
			if err != nil {
				return Step{}, err
			}
			out.Entrypoint[i] = expanded
		}
	}

	// Substitution can change the field count of a copy string, so the
	// parse-time check is repeated on the expanded value.
	if step.Copy != "" && len(strings.Fields(out.Copy)) != 2 {
		return Step{}, fmt.Errorf("%w: copy expects source and destination, got %q", ErrSyntax, out.Copy)
	}

	return out, nil
}

// Replaces every ${NAME} reference in s with its resolved value.
func expandString(s string, params map[string]string) (string, error) {
	var missing string
	expanded := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		v, ok := params[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %q", ErrUnresolvedParameter, missing)
	}
	return expanded, nil
}
