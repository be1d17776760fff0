package engine

import "github.com/pakebuild/pake/internal/vlog"

// Log prints build-file narration at verbosity level 1.
func Log(text string) {
	vlog.Printf(1, "%s", text)
}

// Derived rule forms. These are thin wrappers over the rule
// constructors; the build-file loader and embedding programs use them
// to declare common shapes without writing recipes by hand.

// Group declares a virtual rule which does nothing but reference a
// list of dependencies. Its result is a snapshot mapping of each
// declared dep's result, so dependents rebuild if any member changes.
func Group(reg *Registry, name string, deps []string) *VirtualRule {
	recipe := func(inputs Inputs) (Result, error) {
		snapshot := make(map[string]Result, len(inputs))
		for dep, res := range inputs {
			snapshot[dep] = res
		}
		return snapshot, nil
	}
	return NewVirtual(reg, recipe, name, deps)
}

// Alias declares a rule equivalent to a group with a single member.
func Alias(reg *Registry, name, tgt string) *VirtualRule {
	return Group(reg, name, []string{tgt})
}

// Default creates a "default" alias pointing at the given rule and
// returns the rule unchanged so declarations can be layered. The rule
// must not be a pattern rule, which has no unambiguous target.
func Default(reg *Registry, rule Rule) Rule {
	Alias(reg, "default", rule.Name())
	return rule
}

// Always declares a virtual rule with "always" prepended to its deps,
// so it re-runs on every invocation. Compare declaring a virtual with
// deps=["always"]; this is just nicer when always is the only dep.
func Always(reg *Registry, recipe VirtualRecipe, name string, deps []string) *VirtualRule {
	return NewVirtual(reg, recipe, name, append([]string{"always"}, deps...))
}
