package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// A parsed pipeline document.
type Document struct {
	Args   map[string]*string `yaml:"args"`   // Declared parameters. A nil value means "no default".
	Stages []Stage            `yaml:"stages"` // Stages in declaration order.
}

// A named build stage: a base filesystem reference and an ordered list of
// steps applied to it.
type Stage struct {
	Name    string `yaml:"name"`    // Unique stage name.
	From    string `yaml:"from"`    // Base filesystem: "scratch" (or empty) or a host directory.
	Default bool   `yaml:"default"` // Marks the stage as the pipeline's deliverable.
	Steps   []Step `yaml:"steps"`   // Steps in declared order.
}

// A single step within a stage.
//
// A step with a run or copy field is an operation; its shell, workdir, and
// env fields, if set, override the stage state for that operation only. A
// step without an operation is a standalone modifier and persists its fields
// into the stage state (last write wins).
type Step struct {
	Run        string            `yaml:"run"`        // Shell command to execute.
	Copy       string            `yaml:"copy"`       // "src dest"; src may be "stage:path".
	Shell      string            `yaml:"shell"`      // Shell used for run steps.
	Workdir    string            `yaml:"workdir"`    // Working directory.
	User       string            `yaml:"user"`       // Runtime user identity.
	Env        map[string]string `yaml:"env"`        // Environment variables.
	Expose     Port              `yaml:"expose"`     // Exposed port, "port" or "port/proto".
	Entrypoint []string          `yaml:"entrypoint"` // Runtime entry command.
}

// A declared network port. Accepts a bare integer or a string in the
// pipeline document.
type Port string

// Implements yaml.Unmarshaler so that "expose: 8000" and "expose: 8000/udp"
// both parse.
func (p *Port) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		*p = Port(s)
		return nil
	}
	var n int
	if err := unmarshal(&n); err != nil {
		return err
	}
	*p = Port(strconv.Itoa(n))
	return nil
}

// Whether the step is an operation (run or copy) rather than a standalone
// modifier.
func (s Step) IsOperation() bool {
	return s.Run != "" || s.Copy != ""
}

// Parses a pipeline document.
//
// The parse is strict: unknown fields, steps declaring both run and copy,
// unnamed stages, and malformed copy or expose values all fail with
// [ErrSyntax]. Two stages sharing a name fail with [ErrDuplicateStage].
// The result is not validated for stage reference order or cycles; that is
// the graph's job.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	seen := make(map[string]bool, len(doc.Stages))
	for i, stage := range doc.Stages {
		if err := validateStage(stage); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		if seen[stage.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, stage.Name)
		}
		seen[stage.Name] = true
	}

	return &doc, nil
}

// Validates a single stage's name and steps.
func validateStage(stage Stage) error {
	if stage.Name == "" {
		return fmt.Errorf("%w: stage is missing a name", ErrSyntax)
	}
	if strings.ContainsAny(stage.Name, ":/ \t") {
		return fmt.Errorf("%w: invalid stage name %q", ErrSyntax, stage.Name)
	}

	for i, step := range stage.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Validates a single step.
func validateStep(step Step) error {
	if step.Run != "" && step.Copy != "" {
		return fmt.Errorf("%w: step declares both run and copy", ErrSyntax)
	}

	if step.Copy != "" {
		if len(strings.Fields(step.Copy)) != 2 {
			return fmt.Errorf("%w: copy expects source and destination, got %q", ErrSyntax, step.Copy)
		}
	}

	if step.IsOperation() {
		// Only shell, workdir, and env may be scoped to an operation.
		if step.User != "" || step.Expose != "" || len(step.Entrypoint) > 0 {
			return fmt.Errorf("%w: user, expose, and entrypoint cannot be scoped to an operation", ErrSyntax)
		}
		return nil
	}

	if step.Shell == "" && step.Workdir == "" && step.User == "" &&
		len(step.Env) == 0 && step.Expose == "" && len(step.Entrypoint) == 0 {
		return fmt.Errorf("%w: step has no effect", ErrSyntax)
	}

	if step.Expose != "" {
		if _, err := NormalizePort(string(step.Expose)); err != nil {
			return err
		}
	}
	return nil
}

// Normalizes a port declaration to "port/proto" form.
//
// Accepts "8000" and "8000/udp"; the protocol defaults to tcp, matching the
// convention used by OCI image configs.
func NormalizePort(s string) (string, error) {
	port, proto, ok := strings.Cut(s, "/")
	if !ok {
		proto = "tcp"
	}
	if proto != "tcp" && proto != "udp" {
		return "", fmt.Errorf("%w: unsupported protocol in port %q", ErrSyntax, s)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("%w: invalid port %q", ErrSyntax, s)
	}
	return fmt.Sprintf("%d/%s", n, proto), nil
}
