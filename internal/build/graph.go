package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kilnworks/kiln/internal/manifest"
)

// The validated stage dependency graph.
//
// An edge consumer → producer exists for every cross-stage copy. The graph
// is acyclic and free of forward references, and its topological order
// breaks ties among independent stages by declaration order.
type Graph struct {
	Stages []manifest.Stage

	index map[string]int // Stage name to declaration index.
	deps  [][]int        // Producer indices per stage, deduplicated.
	order []int          // Topological order over declaration indices.
}

// Builds and validates the graph for a pipeline's stages.
//
// Validation runs in phases: every stage-copy source must name a declared
// stage ([ErrUnknownStage]), the reference relation must be acyclic
// ([ErrCycle]), and every producer must be declared before its consumer
// ([ErrUnknownStage], since the reference precedes the definition). Cycle
// detection runs before the declaration-order check so mutual references
// report the cycle.
func NewGraph(stages []manifest.Stage) (*Graph, error) {
	g := &Graph{
		Stages: stages,
		index:  make(map[string]int, len(stages)),
		deps:   make([][]int, len(stages)),
	}
	for i, stage := range stages {
		g.index[stage.Name] = i
	}

	for i, stage := range stages {
		seen := make(map[int]bool)
		for _, step := range stage.Steps {
			if step.Copy == "" {
				continue
			}
			fields := strings.Fields(step.Copy)
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: stage %q: copy has no source", ErrCopy, stage.Name)
			}
			name, _, ok := parseStageCopy(fields[0])
			if !ok {
				continue
			}
			j, declared := g.index[name]
			if !declared {
				return nil, fmt.Errorf("%w: stage %q copies from undeclared stage %q", ErrUnknownStage, stage.Name, name)
			}
			if !seen[j] {
				seen[j] = true
				g.deps[i] = append(g.deps[i], j)
			}
		}
		sort.Ints(g.deps[i])
	}

	if err := g.sortStages(); err != nil {
		return nil, err
	}

	for i, deps := range g.deps {
		for _, j := range deps {
			if j >= i {
				return nil, fmt.Errorf("%w: stage %q referenced before its definition by %q",
					ErrUnknownStage, stages[j].Name, stages[i].Name)
			}
		}
	}

	return g, nil
}

// Computes the topological order, failing with [ErrCycle] when the
// reference relation contains a cycle.
//
// Kahn's algorithm, always picking the ready stage with the lowest
// declaration index, which makes the order deterministic and consistent
// with declaration order for independent stages.
func (g *Graph) sortStages() error {
	remaining := make([]int, len(g.Stages))
	for i, deps := range g.deps {
		remaining[i] = len(deps)
	}

	placed := make([]bool, len(g.Stages))
	g.order = make([]int, 0, len(g.Stages))

	for len(g.order) < len(g.Stages) {
		next := -1
		for i := range g.Stages {
			if !placed[i] && remaining[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return fmt.Errorf("%w: involving %s", ErrCycle, strings.Join(g.cycleMembers(placed), ", "))
		}

		placed[next] = true
		g.order = append(g.order, next)
		for i, deps := range g.deps {
			for _, j := range deps {
				if j == next {
					remaining[i]--
				}
			}
		}
	}

	return nil
}

// Names the stages left unplaced when a cycle is detected.
func (g *Graph) cycleMembers(placed []bool) []string {
	names := make([]string, 0)
	for i, stage := range g.Stages {
		if !placed[i] {
			names = append(names, fmt.Sprintf("%q", stage.Name))
		}
	}
	return names
}

// Returns the topological order as declaration indices.
func (g *Graph) Order() []int {
	return g.order
}

// Returns the declaration index for a stage name.
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}
