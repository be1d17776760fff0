// Package pakefile loads the user-authored build file and populates
// the active registry with the rules it declares.
//
// The build file is a YAML document. Each entry under "rules" declares
// exactly one rule kind:
//
//	vars:
//	  cc: gcc
//	rules:
//	  - target: out.txt            # target-file rule
//	    deps: in.txt               # string or list
//	    run: cp in.txt out.txt
//	  - pattern: 'build/(.+)\.o'   # pattern-file rule
//	    deps: '$1.c'               # back-reference expansion
//	    run: $cc -c -o $target $1.c
//	  - virtual: image             # virtual rule
//	    deps: 'glob:docker/**'     # glob deps expand at load time
//	    run: docker build -q docker
//	    output: true               # capture last line's stdout as result
//	  - virtual: tag
//	    always: true               # prepend "always" to deps
//	    run: git rev-parse HEAD
//	    output: true
//	  - group: all
//	    deps: [out.txt, image]
//	  - alias: release
//	    of: build/release/app
//
// Recipe lines run in the user's shell. $name references expand from
// vars; $target expands to the canonical path being built, $1..$9 to
// pattern capture groups, and ${dep:NAME} to the result of dependency
// NAME. Rule registration order is source order within each priority
// band.
package pakefile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pakebuild/pake/internal/engine"
	"github.com/pakebuild/pake/internal/fswalk"
	"github.com/pakebuild/pake/internal/shell"
	"github.com/pakebuild/pake/internal/vlog"
)

// DefaultNames are the build-file names tried, in order, when none is
// given on the command line.
var DefaultNames = []string{"Pakefile", "Pakefile.yaml"}

// FindDefault returns the first default build-file name that exists.
func FindDefault() (string, bool) {
	for _, name := range DefaultNames {
		if _, err := os.Stat(name); err == nil {
			return name, true
		}
	}
	return "", false
}

// File is the YAML envelope of a build file.
type File struct {
	Vars  map[string]string `yaml:"vars"`
	Rules []Entry           `yaml:"rules"`
}

// Entry declares one rule, or a log line printed while loading.
// Exactly one of Target, Pattern, Virtual, Group, Alias or Log must be
// set.
type Entry struct {
	Target  string       `yaml:"target"`
	Pattern string       `yaml:"pattern"`
	Virtual string       `yaml:"virtual"`
	Group   string       `yaml:"group"`
	Alias   string       `yaml:"alias"`
	Log     string       `yaml:"log"`
	Of      string       `yaml:"of"` // alias referent
	Deps    StringOrList `yaml:"deps"`
	Run     StringOrList `yaml:"run"`
	Output  bool         `yaml:"output"`  // capture last run line's stdout as the result
	Always  bool         `yaml:"always"`  // prepend "always" to deps
	Default bool         `yaml:"default"` // also declare this rule as default
}

// StringOrList handles YAML fields that can be either a single string
// or a list of strings, so users can write either:
//
//	deps: in.txt
//	deps: [in.txt, other.txt]
type StringOrList []string

// UnmarshalYAML handles both scalar and sequence forms.
func (s *StringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// Load parses the build file at path and registers every declared rule
// on the registry.
func Load(path string, reg *engine.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for i := range file.Rules {
		if err := declare(reg, &file.Rules[i], file.Vars); err != nil {
			return fmt.Errorf("%s: rule %d: %w", path, i+1, err)
		}
	}
	return nil
}

// declare registers one entry's rule on the registry.
func declare(reg *engine.Registry, e *Entry, vars map[string]string) error {
	if err := validate(e); err != nil {
		return err
	}

	if e.Log != "" {
		engine.Log(expandVars(e.Log, vars))
		return nil
	}

	deps, err := expandDeps(e.Deps, vars)
	if err != nil {
		return err
	}
	if e.Always {
		deps = append([]string{"always"}, deps...)
	}

	var rule engine.Rule
	switch {
	case e.Target != "":
		rule, err = engine.NewTarget(reg, fileRecipe(e, vars), expandVars(e.Target, vars), deps)
		if err != nil {
			return err
		}
	case e.Pattern != "":
		r, perr := engine.NewPattern(reg, patternRecipe(e, vars), expandVars(e.Pattern, vars), deps)
		if perr != nil {
			return perr
		}
		rule = r
	case e.Virtual != "":
		rule = engine.NewVirtual(reg, virtualRecipe(e, vars), e.Virtual, deps)
	case e.Group != "":
		rule = engine.Group(reg, e.Group, deps)
	case e.Alias != "":
		if e.Of == "" {
			return fmt.Errorf("alias %q: missing 'of'", e.Alias)
		}
		rule = engine.Alias(reg, e.Alias, expandVars(e.Of, vars))
	}

	if e.Default {
		engine.Default(reg, rule)
	}
	return nil
}

// validate checks that exactly one rule kind is declared and that the
// modifier fields make sense for it.
func validate(e *Entry) error {
	kinds := 0
	for _, k := range []string{e.Target, e.Pattern, e.Virtual, e.Group, e.Alias, e.Log} {
		if k != "" {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("must declare exactly one of target, pattern, virtual, group, alias, log")
	}
	if e.Of != "" && e.Alias == "" {
		return fmt.Errorf("'of' is only valid on alias rules")
	}
	if e.Output && e.Virtual == "" {
		return fmt.Errorf("'output' is only valid on virtual rules")
	}
	if e.Always && e.Virtual == "" {
		return fmt.Errorf("'always' is only valid on virtual rules")
	}
	if len(e.Run) > 0 && (e.Group != "" || e.Alias != "") {
		return fmt.Errorf("group and alias rules cannot have a recipe")
	}
	if e.Default && e.Pattern != "" {
		return fmt.Errorf("a pattern rule cannot be the default: it has no unambiguous target")
	}
	return nil
}

// expandDeps applies var expansion to each dep and expands glob: deps
// into the matching file list at load time.
func expandDeps(deps StringOrList, vars map[string]string) ([]string, error) {
	var out []string
	for _, dep := range deps {
		dep = expandVars(dep, vars)
		if pattern, ok := strings.CutPrefix(dep, "glob:"); ok {
			files, err := fswalk.Glob(pattern)
			if err != nil {
				return nil, err
			}
			out = append(out, files...)
			continue
		}
		out = append(out, dep)
	}
	return out, nil
}

// expandVars substitutes $name / ${name} references from vars, leaving
// unknown references (eg. pattern back-references like $1, or the
// recipe-time $target) intact for later expansion.
func expandVars(s string, vars map[string]string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "$" + name
	})
}

// expandLine substitutes the recipe-time variables into a run line:
// $target, $1..$n capture groups, ${dep:NAME} dependency results, then
// vars. Unknown names expand to the empty string, matching shell
// behaviour.
func expandLine(line string, vars map[string]string, tgt string, m *engine.Match, inputs engine.Inputs) string {
	return os.Expand(line, func(name string) string {
		if name == "target" {
			return tgt
		}
		if m != nil && len(name) == 1 && name[0] >= '1' && name[0] <= '9' {
			return m.Group(int(name[0] - '0'))
		}
		if dep, ok := strings.CutPrefix(name, "dep:"); ok {
			if res, ok := inputs[dep]; ok && res != nil {
				return fmt.Sprint(res)
			}
			return ""
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return ""
	})
}

// runLines executes the recipe's shell lines in order. When capture is
// true, the last line's stdout is returned (trimmed).
func runLines(lines []string, vars map[string]string, tgt string, m *engine.Match, inputs engine.Inputs, capture bool) (string, error) {
	var output string
	for i, line := range lines {
		expanded := expandLine(line, vars, tgt, m, inputs)
		vlog.Printf(1, "+ %s", expanded)
		cmd := shell.Shell(expanded)
		if capture && i == len(lines)-1 {
			out, err := cmd.Output()
			if err != nil {
				return "", err
			}
			output = out
			continue
		}
		if err := cmd.Run(); err != nil {
			return "", err
		}
	}
	return output, nil
}

func fileRecipe(e *Entry, vars map[string]string) engine.TargetRecipe {
	lines := append([]string(nil), e.Run...)
	return func(path string, inputs engine.Inputs) error {
		_, err := runLines(lines, vars, path, nil, inputs, false)
		return err
	}
}

func patternRecipe(e *Entry, vars map[string]string) engine.PatternRecipe {
	lines := append([]string(nil), e.Run...)
	return func(path string, inputs engine.Inputs, m *engine.Match) error {
		_, err := runLines(lines, vars, path, m, inputs, false)
		return err
	}
}

func virtualRecipe(e *Entry, vars map[string]string) engine.VirtualRecipe {
	lines := append([]string(nil), e.Run...)
	capture := e.Output
	return func(inputs engine.Inputs) (engine.Result, error) {
		out, err := runLines(lines, vars, "", nil, inputs, capture)
		if err != nil {
			return nil, err
		}
		if capture {
			return out, nil
		}
		return nil, nil
	}
}
