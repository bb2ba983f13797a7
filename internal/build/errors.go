package build

import (
	"errors"
	"fmt"
)

var (
	ErrBuild          = errors.New("build failed")
	ErrUnknownStage   = errors.New("unknown stage reference")
	ErrCycle          = errors.New("cyclic stage dependency")
	ErrCommandFailed  = errors.New("command failed")
	ErrUpstreamFailed = errors.New("upstream stage failed")
	ErrCopy           = errors.New("copy failed")
)

// Reports a run step that exited with a non-zero status.
type StageError struct {
	Stage    string // Stage that failed.
	Step     int    // 1-based index of the failing step.
	ExitCode int    // Exit status of the command.
	Stderr   string // Captured standard error.
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %q step %d: exit code %d", e.Stage, e.Step, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return ErrCommandFailed
}
