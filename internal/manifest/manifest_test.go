package manifest

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`
args:
  VERSION: "1.0"
stages:
  - name: build
    from: scratch
    steps:
      - run: make
      - copy: bin/app /app/bin
  - name: runtime
    default: true
    steps:
      - copy: build:/app/bin /app/bin
      - entrypoint: ["/app/bin"]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Stages) != 2 {
		t.Fatalf("len(stages) = %d, want 2", len(doc.Stages))
	}
	if doc.Stages[0].Name != "build" || doc.Stages[1].Name != "runtime" {
		t.Fatalf("stage names = %q, %q", doc.Stages[0].Name, doc.Stages[1].Name)
	}
	if !doc.Stages[1].Default {
		t.Fatal("runtime stage not marked default")
	}
	if v := doc.Args["VERSION"]; v == nil || *v != "1.0" {
		t.Fatalf("args[VERSION] = %v, want 1.0", v)
	}
	if got := doc.Stages[1].Steps[1].Entrypoint; len(got) != 1 || got[0] != "/app/bin" {
		t.Fatalf("entrypoint = %v, want [/app/bin]", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{
			name:  "malformed yaml",
			input: "stages: [",
			want:  ErrSyntax,
		},
		{
			name: "unknown field",
			input: `
stages:
  - name: a
    bogus: field
`,
			want: ErrSyntax,
		},
		{
			name: "unnamed stage",
			input: `
stages:
  - from: scratch
    steps:
      - run: make
`,
			want: ErrSyntax,
		},
		{
			name: "invalid stage name",
			input: `
stages:
  - name: "a:b"
`,
			want: ErrSyntax,
		},
		{
			name: "duplicate stage name",
			input: `
stages:
  - name: build
    steps:
      - run: make
  - name: build
    steps:
      - run: make
`,
			want: ErrDuplicateStage,
		},
		{
			name: "run and copy in one step",
			input: `
stages:
  - name: a
    steps:
      - run: make
        copy: x /y
`,
			want: ErrSyntax,
		},
		{
			name: "copy with one token",
			input: `
stages:
  - name: a
    steps:
      - copy: onlysource
`,
			want: ErrSyntax,
		},
		{
			name: "entrypoint scoped to operation",
			input: `
stages:
  - name: a
    steps:
      - run: make
        entrypoint: ["/bin/app"]
`,
			want: ErrSyntax,
		},
		{
			name: "empty step",
			input: `
stages:
  - name: a
    steps:
      - {}
`,
			want: ErrSyntax,
		},
		{
			name: "bad expose protocol",
			input: `
stages:
  - name: a
    steps:
      - expose: 8000/sctp
`,
			want: ErrSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseScopedModifiers(t *testing.T) {
	doc, err := Parse([]byte(`
stages:
  - name: a
    steps:
      - run: make
        shell: /bin/bash
        workdir: /src
        env:
          CC: gcc
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := doc.Stages[0].Steps[0]
	if step.Shell != "/bin/bash" || step.Workdir != "/src" || step.Env["CC"] != "gcc" {
		t.Fatalf("scoped modifiers not parsed: %+v", step)
	}
}

func TestParseExposeInteger(t *testing.T) {
	doc, err := Parse([]byte(`
stages:
  - name: a
    steps:
      - expose: 8000
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := doc.Stages[0].Steps[0].Expose; got != "8000" {
		t.Fatalf("expose = %q, want %q", got, "8000")
	}
}

func TestNormalizePort(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare port", input: "8000", want: "8000/tcp"},
		{name: "explicit tcp", input: "8000/tcp", want: "8000/tcp"},
		{name: "udp", input: "53/udp", want: "53/udp"},
		{name: "unsupported protocol", input: "8000/sctp", wantErr: true},
		{name: "not a number", input: "http", wantErr: true},
		{name: "port zero", input: "0", wantErr: true},
		{name: "port too large", input: "70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePort(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsOperation(t *testing.T) {
	if (Step{Run: "make"}).IsOperation() != true {
		t.Fatal("run step should be an operation")
	}
	if (Step{Copy: "a /b"}).IsOperation() != true {
		t.Fatal("copy step should be an operation")
	}
	if (Step{Workdir: "/app"}).IsOperation() != false {
		t.Fatal("modifier step should not be an operation")
	}
}
