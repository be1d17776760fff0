package pakefile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/pakebuild/pake/internal/engine"
)

// newTestRegistry chdirs into a fresh temp dir and opens a registry
// there.
func newTestRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	t.Chdir(t.TempDir())
	reg, err := engine.New(".pake-state")
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

// load writes the given YAML as the build file and loads it.
func load(t *testing.T, reg *engine.Registry, content string) error {
	t.Helper()
	if err := os.WriteFile("Pakefile", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return Load("Pakefile", reg)
}

func TestLoad_TargetRule(t *testing.T) {
	reg := newTestRegistry(t)
	if err := os.WriteFile("in.txt", []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := load(t, reg, `
rules:
  - target: out.txt
    deps: in.txt
    run: cp in.txt $target
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := reg.Update("out.txt", engine.RebuildNone); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	data, err := os.ReadFile("out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("out.txt = %q", data)
	}
}

func TestLoad_PatternRule(t *testing.T) {
	reg := newTestRegistry(t)
	if err := os.WriteFile("foo.c", []byte("src"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := load(t, reg, `
rules:
  - pattern: 'build/(.+)\.o'
    deps: '$1.c'
    run: cp $1.c $target
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := reg.Update("build/foo.o", engine.RebuildNone); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	data, err := os.ReadFile("build/foo.o")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "src" {
		t.Errorf("build/foo.o = %q", data)
	}
}

func TestLoad_VirtualWithOutput(t *testing.T) {
	reg := newTestRegistry(t)

	err := load(t, reg, `
rules:
  - virtual: greeting
    run: echo hello world
    output: true
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, err := reg.Update("greeting", engine.RebuildNone)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res != "hello world" {
		t.Errorf("result = %v, want trimmed stdout", res)
	}
}

func TestLoad_AlwaysFlag(t *testing.T) {
	reg := newTestRegistry(t)

	err := load(t, reg, `
rules:
  - virtual: tick
    always: true
    run: 'true'
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rule, tok := reg.Resolve("tick")
	deps, err := rule.Deps(tok)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) == 0 || deps[0] != "always" {
		t.Errorf("deps = %v, want always first", deps)
	}
}

func TestLoad_VarExpansion(t *testing.T) {
	reg := newTestRegistry(t)

	err := load(t, reg, `
vars:
  greeting: hi there
rules:
  - virtual: say
    run: echo "$greeting"
    output: true
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, err := reg.Update("say", engine.RebuildNone)
	if err != nil {
		t.Fatal(err)
	}
	if res != "hi there" {
		t.Errorf("result = %v", res)
	}
}

func TestLoad_GlobDeps(t *testing.T) {
	reg := newTestRegistry(t)
	for _, f := range []string{"src/a.c", "src/b.c"} {
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	err := load(t, reg, `
rules:
  - group: sources
    deps: 'glob:src/*.c'
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rule, tok := reg.Resolve("sources")
	deps, err := rule.Deps(tok)
	if err != nil {
		t.Fatal(err)
	}
	// The Pakefile itself is not a .c file, so only the two sources.
	want := []string{"./src/a.c", "./src/b.c"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("deps = %v, want %v", deps, want)
	}
}

func TestLoad_DefaultFlag(t *testing.T) {
	reg := newTestRegistry(t)

	err := load(t, reg, `
rules:
  - virtual: build
    default: true
    run: 'true'
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rule, _ := reg.Resolve("default")
	if reg.IsFallback(rule) {
		t.Error("default alias not declared")
	}
}

func TestLoad_DepResultExpansion(t *testing.T) {
	reg := newTestRegistry(t)

	err := load(t, reg, `
rules:
  - virtual: id
    run: echo abc123
    output: true
  - virtual: use
    deps: [id]
    run: echo "got ${dep:id}"
    output: true
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, err := reg.Update("use", engine.RebuildNone)
	if err != nil {
		t.Fatal(err)
	}
	if res != "got abc123" {
		t.Errorf("result = %v", res)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"two kinds",
			"rules:\n  - target: a\n    virtual: b\n",
			"exactly one",
		},
		{
			"no kind",
			"rules:\n  - deps: [a]\n",
			"exactly one",
		},
		{
			"output on target",
			"rules:\n  - target: a\n    output: true\n",
			"only valid on virtual",
		},
		{
			"always on group",
			"rules:\n  - group: g\n    deps: [a]\n    always: true\n",
			"only valid on virtual",
		},
		{
			"alias without of",
			"rules:\n  - alias: a\n",
			"missing 'of'",
		},
		{
			"of on target",
			"rules:\n  - target: a\n    of: b\n",
			"only valid on alias",
		},
		{
			"recipe on group",
			"rules:\n  - group: g\n    deps: [a]\n    run: echo\n",
			"cannot have a recipe",
		},
		{
			"default pattern",
			"rules:\n  - pattern: '(.+)\\.o'\n    default: true\n",
			"no unambiguous target",
		},
		{
			"bad regex",
			"rules:\n  - pattern: '(unclosed'\n    run: echo\n",
			"invalid pattern",
		},
		{
			"bad target path",
			"rules:\n  - target: '../escape'\n    run: echo\n",
			"invalid filepath",
		},
		{
			"unknown key",
			"rules:\n  - target: a\n    recipe: echo\n",
			"field recipe not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			err := load(t, reg, tt.content)
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestStringOrList(t *testing.T) {
	var single struct {
		Deps StringOrList `yaml:"deps"`
	}
	if err := yaml.Unmarshal([]byte("deps: one"), &single); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]string(single.Deps), []string{"one"}) {
		t.Errorf("scalar form = %v", single.Deps)
	}

	var list struct {
		Deps StringOrList `yaml:"deps"`
	}
	if err := yaml.Unmarshal([]byte("deps: [one, two]"), &list); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]string(list.Deps), []string{"one", "two"}) {
		t.Errorf("list form = %v", list.Deps)
	}

	var bad struct {
		Deps StringOrList `yaml:"deps"`
	}
	if err := yaml.Unmarshal([]byte("deps: {k: v}"), &bad); err == nil {
		t.Error("mapping form accepted")
	}
}

func TestFindDefault(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, ok := FindDefault(); ok {
		t.Error("FindDefault found a build file in an empty directory")
	}
	if err := os.WriteFile("Pakefile.yaml", []byte("rules: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, ok := FindDefault()
	if !ok || name != "Pakefile.yaml" {
		t.Errorf("FindDefault = %q, %v", name, ok)
	}
	// "Pakefile" takes precedence when both exist.
	if err := os.WriteFile("Pakefile", []byte("rules: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, ok = FindDefault()
	if !ok || name != "Pakefile" {
		t.Errorf("FindDefault = %q, %v", name, ok)
	}
}
