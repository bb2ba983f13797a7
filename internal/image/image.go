package image

import (
	"fmt"

	"github.com/kilnworks/kiln/internal/manifest"
)

// Resolves which stage is the pipeline's deliverable.
//
// An explicit target overrides the manifest; otherwise the single stage
// marked default is chosen, falling back to the last declared stage when
// none is marked. Fails with [ErrNoDefaultStage] when the pipeline has no
// stages or marks more than one as default, and with [ErrUnknownTarget]
// when the explicit target names no stage. Called before any execution so
// structural errors surface eagerly.
func DefaultStage(stages []manifest.Stage, target string) (int, error) {
	if len(stages) == 0 {
		return 0, fmt.Errorf("%w: pipeline declares no stages", ErrNoDefaultStage)
	}

	marked := -1
	for i, stage := range stages {
		if !stage.Default {
			continue
		}
		if marked >= 0 {
			return 0, fmt.Errorf("%w: both %q and %q are marked default",
				ErrNoDefaultStage, stages[marked].Name, stage.Name)
		}
		marked = i
	}

	if target != "" {
		for i, stage := range stages {
			if stage.Name == target {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}

	if marked >= 0 {
		return marked, nil
	}
	return len(stages) - 1, nil
}
