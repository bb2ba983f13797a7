package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kilnworks/kiln/internal/build"
	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/manifest"
	"github.com/kilnworks/kiln/internal/paths"
	"github.com/kilnworks/kiln/internal/runtime"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Represents the 'kiln build' command.
type BuildCmd struct {
	File    string            `short:"f" default:"kiln.yaml" help:"Path to the pipeline definition." placeholder:"PATH"`
	Arg     map[string]string `short:"a" help:"Build parameter overrides." placeholder:"NAME=VALUE"`
	Target  string            `help:"Stage to finalize instead of the declared default." placeholder:"STAGE"`
	Output  string            `short:"o" default:"dist" help:"Directory for the exported image." placeholder:"DIR"`
	Store   string            `help:"Build store directory. Defaults to the user cache directory." placeholder:"DIR"`
	Context string            `help:"Build context root. Defaults to the manifest directory." placeholder:"DIR"`
	Jobs    int               `short:"j" help:"Maximum stages built in parallel. 0 means unlimited."`
}

// Executes the build command.
//
// Parses the pipeline, resolves parameters, and executes every stage
// against the shared build store, exporting the deliverable stage as an
// OCI archive.
func (c *BuildCmd) Run(ctx context.Context) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading pipeline: %w", err)
	}

	doc, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	params, err := manifest.ResolveArgs(doc.Args, c.Arg)
	if err != nil {
		return err
	}

	expanded, err := manifest.Expand(doc, params)
	if err != nil {
		return err
	}

	storeDir := c.Store
	if storeDir == "" {
		storeDir = paths.Store()
	}

	store, err := snapshot.NewDiskStore(storeDir)
	if err != nil {
		return err
	}
	results, err := cache.NewDiskStore(storeDir)
	if err != nil {
		return err
	}

	rt, err := runtime.New()
	if err != nil {
		return err
	}
	defer rt.Close()

	buildCtx := c.Context
	if buildCtx == "" {
		buildCtx = filepath.Dir(c.File)
	}

	result, err := build.Run(ctx, rt, build.Options{
		Pipeline: expanded,
		Context:  buildCtx,
		Target:   c.Target,
		Output:   c.Output,
		Jobs:     c.Jobs,
		Store:    store,
		Cache:    results,
	})
	if err != nil {
		return err
	}

	slog.Info("build complete",
		"image", result.Artifact.Path,
		"digest", result.Artifact.Digest,
	)
	return nil
}
