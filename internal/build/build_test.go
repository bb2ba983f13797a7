package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kilnworks/kiln/internal/cache"
	"github.com/kilnworks/kiln/internal/manifest"
	"github.com/kilnworks/kiln/internal/runtime"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Counts run step executions on top of the real runtime, so tests can
// assert which steps were replayed from the cache.
type countingRunner struct {
	*runtime.Runtime
	execs atomic.Int64
}

func (c *countingRunner) Exec(ctx context.Context, root, shell, command string, env []string, workdir string) (*runtime.ExecResult, error) {
	c.execs.Add(1)
	return c.Runtime.Exec(ctx, root, shell, command, env, workdir)
}

func newTestRunner(t *testing.T) *countingRunner {
	t.Helper()
	rt, err := runtime.New()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return &countingRunner{Runtime: rt}
}

func parseDoc(t *testing.T, text string) *manifest.Document {
	t.Helper()
	doc, err := manifest.Parse([]byte(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func testOptions(t *testing.T, doc *manifest.Document) Options {
	t.Helper()
	return Options{
		Pipeline: doc,
		Context:  t.TempDir(),
		Output:   t.TempDir(),
		Store:    snapshot.NewMemoryStore(),
		Cache:    cache.NewMemoryStore(),
	}
}

const twoStagePipeline = `
stages:
  - name: build
    steps:
      - workdir: /src
      - run: mkdir -p out && printf payload > out/file
  - name: runtime
    default: true
    steps:
      - copy: build:/src/out/file /app/file
      - entrypoint: ["/app/file"]
`

func TestRun(t *testing.T) {
	runner := newTestRunner(t)
	opts := testOptions(t, parseDoc(t, twoStagePipeline))

	result, err := Run(context.Background(), runner, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Artifact == nil {
		t.Fatal("no artifact produced")
	}
	if _, err := os.Stat(result.Artifact.Path); err != nil {
		t.Fatalf("artifact archive missing: %v", err)
	}
	if got := result.Artifact.Config.Entrypoint; len(got) != 1 || got[0] != "/app/file" {
		t.Fatalf("entrypoint = %v, want [/app/file]", got)
	}
	if got := runner.execs.Load(); got != 1 {
		t.Fatalf("execs = %d, want 1", got)
	}
}

func TestRunWarmCache(t *testing.T) {
	opts := testOptions(t, parseDoc(t, twoStagePipeline))

	first := newTestRunner(t)
	a, err := Run(context.Background(), first, opts)
	if err != nil {
		t.Fatalf("cold run: %v", err)
	}

	second := newTestRunner(t)
	b, err := Run(context.Background(), second, opts)
	if err != nil {
		t.Fatalf("warm run: %v", err)
	}

	if got := second.execs.Load(); got != 0 {
		t.Fatalf("warm run executed %d steps, want 0", got)
	}
	if a.Artifact.Digest != b.Artifact.Digest {
		t.Fatalf("warm run produced a different image: %s vs %s", a.Artifact.Digest, b.Artifact.Digest)
	}
}

func TestRunPrefixInvalidation(t *testing.T) {
	const original = `
stages:
  - name: only
    steps:
      - run: printf one > a
      - run: printf two > b
      - entrypoint: ["/a"]
`
	const changed = `
stages:
  - name: only
    steps:
      - run: printf one > a
      - run: printf changed > b
      - entrypoint: ["/a"]
`

	opts := testOptions(t, parseDoc(t, original))

	cold := newTestRunner(t)
	if _, err := Run(context.Background(), cold, opts); err != nil {
		t.Fatalf("cold run: %v", err)
	}
	if got := cold.execs.Load(); got != 2 {
		t.Fatalf("cold run executed %d steps, want 2", got)
	}

	opts.Pipeline = parseDoc(t, changed)
	warm := newTestRunner(t)
	if _, err := Run(context.Background(), warm, opts); err != nil {
		t.Fatalf("warm run: %v", err)
	}

	// The first step is unchanged and hits; only the changed step reruns.
	if got := warm.execs.Load(); got != 1 {
		t.Fatalf("warm run executed %d steps, want 1", got)
	}
}

func TestRunContextCopy(t *testing.T) {
	doc := parseDoc(t, `
stages:
  - name: app
    steps:
      - copy: data.txt /app/data.txt
      - entrypoint: ["/app/data.txt"]
`)
	opts := testOptions(t, doc)
	writeContextFile(t, opts.Context, "data.txt", "v1")

	a, err := Run(context.Background(), newTestRunner(t), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Changing the source content must invalidate the copy.
	writeContextFile(t, opts.Context, "data.txt", "v2")
	b, err := Run(context.Background(), newTestRunner(t), opts)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if a.Artifact.Digest == b.Artifact.Digest {
		t.Fatal("changed context file produced the same image")
	}
}

func TestRunBaseDirectory(t *testing.T) {
	doc := parseDoc(t, `
stages:
  - name: app
    from: rootfs
    steps:
      - run: test -f seed
      - entrypoint: ["/seed"]
`)
	opts := testOptions(t, doc)
	writeContextFile(t, opts.Context, filepath.Join("rootfs", "seed"), "seed")

	if _, err := Run(context.Background(), newTestRunner(t), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunCommandFailure(t *testing.T) {
	doc := parseDoc(t, `
stages:
  - name: fail
    steps:
      - run: exit 7
  - name: consumer
    steps:
      - copy: fail:/out /out
      - entrypoint: ["/out"]
  - name: sibling
    steps:
      - run: printf ok > ok
      - entrypoint: ["/ok"]
`)
	opts := testOptions(t, doc)
	opts.Target = "sibling"

	runner := newTestRunner(t)
	_, err := Run(context.Background(), runner, opts)
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("err = %v, want ErrBuild", err)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("err = %v, want ErrCommandFailed", err)
	}
	if !errors.Is(err, ErrUpstreamFailed) {
		t.Fatalf("err = %v, want ErrUpstreamFailed in the union", err)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("err = %v, want a StageError", err)
	}
	if stageErr.Stage != "fail" || stageErr.Step != 1 || stageErr.ExitCode != 7 {
		t.Fatalf("stage error = %+v, want fail step 1 exit 7", stageErr)
	}

	// The independent sibling still executed.
	if got := runner.execs.Load(); got != 2 {
		t.Fatalf("execs = %d, want 2 (failing stage and sibling)", got)
	}
}

// Holds a marker command open until the build is cancelled, so tests can
// cancel at a known point mid-stage.
type blockingRunner struct {
	*runtime.Runtime
	started chan struct{}
}

func (b *blockingRunner) Exec(ctx context.Context, root, shell, command string, env []string, workdir string) (*runtime.ExecResult, error) {
	if strings.Contains(command, "wait-for-cancel") {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.Runtime.Exec(ctx, root, shell, command, env, workdir)
}

// Counts result recordings so tests can assert which steps were cached.
type recordingCache struct {
	cache.Store
	puts atomic.Int64
}

func (c *recordingCache) Put(key cache.Key, res cache.Result) error {
	c.puts.Add(1)
	return c.Store.Put(key, res)
}

func TestRunCancellation(t *testing.T) {
	doc := parseDoc(t, `
stages:
  - name: slow
    steps:
      - run: printf a > a
      - run: wait-for-cancel
      - run: printf never > never
      - entrypoint: ["/a"]
`)
	opts := testOptions(t, doc)
	recorder := &recordingCache{Store: opts.Cache}
	opts.Cache = recorder

	rt, err := runtime.New()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	runner := &blockingRunner{Runtime: rt, started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := Run(ctx, runner, opts)
		errCh <- err
	}()

	<-runner.started
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// Only the step that completed before cancellation was recorded; the
	// interrupted step and everything after it left no cache entries.
	if got := recorder.puts.Load(); got != 1 {
		t.Fatalf("cache puts = %d, want 1", got)
	}
}

func TestRunEagerValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{
			name: "cycle",
			text: `
stages:
  - name: a
    steps:
      - copy: b:/x /x
      - entrypoint: ["/x"]
  - name: b
    steps:
      - copy: a:/y /y
      - entrypoint: ["/y"]
`,
			want: ErrCycle,
		},
		{
			name: "forward reference",
			text: `
stages:
  - name: consumer
    steps:
      - copy: producer:/x /x
      - entrypoint: ["/x"]
  - name: producer
    steps:
      - run: printf x > x
      - entrypoint: ["/x"]
`,
			want: ErrUnknownStage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newTestRunner(t)
			_, err := Run(context.Background(), runner, testOptions(t, parseDoc(t, tt.text)))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := runner.execs.Load(); got != 0 {
				t.Fatalf("invalid pipeline executed %d steps, want 0", got)
			}
		})
	}
}

func TestRunParallelStages(t *testing.T) {
	doc := parseDoc(t, `
stages:
  - name: a
    steps:
      - run: printf a > a
  - name: b
    steps:
      - run: printf b > b
  - name: join
    default: true
    steps:
      - copy: a:/a /out/a
      - copy: b:/b /out/b
      - entrypoint: ["/out/a"]
`)
	opts := testOptions(t, doc)
	opts.Jobs = 2

	result, err := Run(context.Background(), newTestRunner(t), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Artifact == nil {
		t.Fatal("no artifact produced")
	}
}

func writeContextFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
