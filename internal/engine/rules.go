// Package engine implements the pake rule engine: the rule hierarchy,
// the registry that owns rules and persistent state, and the recursive
// update driver.
//
// Glossary:
//
//	target: a string which identifies a buildable object
//	canonical target: the unique normalized form of a target. Multiple
//		targets may map to the same canonical target, eg. "foo" and
//		"bar/../foo".
//	filepath: a canonical target which is a file or directory (ie. not
//		a virtual target)
//	rule: a means of building certain matching targets
//
// Each rule carries a priority (lower = earlier; ties resolve by
// declaration order), decides with Match whether it claims a target,
// enumerates dependencies, performs a rule-local staleness check, and
// runs a recipe. File rules return the hash of the built file; virtual
// rules may return any small JSON-serializable value, and dependents
// re-run only when that value changes. Returning a constant (eg. nil)
// suits phony targets that exist for side effects; returning Unique()
// means "my dependents should always update when I have run".
package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/pakebuild/pake/internal/target"
)

// Result is the small serializable value a rule produces: a hex digest
// for file rules, any JSON-compatible value for virtual rules.
type Result = any

// Inputs maps a rule's declared dependency strings, verbatim, to those
// dependencies' results.
type Inputs = map[string]Result

// Token is the opaque value a rule's Match returns, carrying whatever
// the rule's other operations need (a normalized path, a regex match,
// a tagged pair).
type Token = any

// Rule is the capability set shared by all rule variants.
type Rule interface {
	// Priority orders rule matching; lower goes earlier. Ties are
	// broken by registration order.
	Priority() float64
	// Name identifies the rule in diagnostics; for virtual rules it is
	// also what Match compares against.
	Name() string
	// Match reports whether this rule claims the target, returning an
	// opaque token for the other operations.
	Match(tgt string) (Token, bool)
	// Canonical returns the canonical target string for a match token.
	Canonical(tok Token) string
	// Deps returns the targets that must be up to date before the
	// matched target can build, in declared order.
	Deps(tok Token) ([]string, error)
	// NeedsSelfUpdate is the rule-local staleness check, consulted only
	// when the recorded inputs are unchanged. prior is the cached
	// result being invalidated, or nil if not cached. (Those two cases
	// are indistinguishable; the only variants that inspect prior never
	// store nil.)
	NeedsSelfUpdate(tok Token, prior Result) bool
	// Run executes the recipe. All dependencies are already up to date.
	Run(tok Token, inputs Inputs) (Result, error)
}

// Unique returns a fresh value distinguishable from any file digest,
// suitable as a rule result that always invalidates dependents.
func Unique() string {
	return "unique:" + uuid.NewString()
}

// Recipe signatures per variant.
type (
	// VirtualRecipe receives the collected inputs and returns the
	// rule's result, which must be JSON-serializable.
	VirtualRecipe func(inputs Inputs) (Result, error)
	// TargetRecipe receives the canonical path to build and the inputs.
	TargetRecipe func(path string, inputs Inputs) error
	// PatternRecipe additionally receives the pattern match for access
	// to capture groups.
	PatternRecipe func(path string, inputs Inputs, m *Match) error
)

// ---------------------------------------------------------------------
// always
// ---------------------------------------------------------------------

// alwaysRule is a do-nothing rule which always returns a unique string,
// forcing any dependent to rebuild on every invocation.
type alwaysRule struct{}

func newAlwaysRule(reg *Registry) {
	reg.Register(alwaysRule{})
}

// Fundamental; breaks things if overridden, so it always goes first.
func (alwaysRule) Priority() float64 { return math.Inf(-1) }

func (alwaysRule) Name() string { return "always" }

func (alwaysRule) Match(tgt string) (Token, bool) {
	if tgt == "always" {
		return tgt, true
	}
	return nil, false
}

func (alwaysRule) Canonical(tok Token) string { return tok.(string) }

func (alwaysRule) Deps(Token) ([]string, error) { return nil, nil }

func (alwaysRule) NeedsSelfUpdate(Token, Result) bool { return true }

func (alwaysRule) Run(Token, Inputs) (Result, error) { return Unique(), nil }

// ---------------------------------------------------------------------
// fallback
// ---------------------------------------------------------------------

// fallbackRule handles any target no other rule matches. It returns the
// hash of the file if it exists, and errors otherwise.
type fallbackRule struct{}

func newFallbackRule(reg *Registry) {
	reg.Register(fallbackRule{})
}

// Matches anything; always goes last.
func (fallbackRule) Priority() float64 { return math.Inf(1) }

func (fallbackRule) Name() string { return "fallback" }

// fallbackToken records whether the target was a valid filepath. The
// error is carried to Run so an unbuildable name fails at build time
// with a useful message, not at resolution time.
type fallbackToken struct {
	target string
	err    error
}

func (fallbackRule) Match(tgt string) (Token, bool) {
	path, err := target.Normalize(tgt)
	if err != nil {
		return fallbackToken{target: tgt, err: err}, true
	}
	return fallbackToken{target: path}, true
}

func (fallbackRule) Canonical(tok Token) string { return tok.(fallbackToken).target }

func (fallbackRule) Deps(Token) ([]string, error) { return nil, nil }

// Hashing the file here and comparing would be the same work as
// running anyway.
func (fallbackRule) NeedsSelfUpdate(Token, Result) bool { return true }

func (fallbackRule) Run(tok Token, _ Inputs) (Result, error) {
	t := tok.(fallbackToken)
	if t.err != nil {
		return nil, Rulef("%q is not a valid filepath (%s) and no rule by that name exists", t.target, t.err)
	}
	hash, err := target.Hash(t.target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Rulef("file does not exist and there is no rule to create it")
		}
		return nil, err
	}
	return hash, nil
}

// ---------------------------------------------------------------------
// virtual
// ---------------------------------------------------------------------

// VirtualRule doesn't output a file, but rather some other piece of
// data, or nothing. It still obeys the normal behaviour for being
// considered up to date.
//
// The name can be used to refer to this rule's target as a dependency.
// If both a virtual target NAME and a file called NAME exist, "NAME"
// refers to the virtual target whereas "./NAME" refers to the file.
type VirtualRule struct {
	name   string
	deps   []string
	recipe VirtualRecipe
}

// NewVirtual constructs and registers a virtual rule.
func NewVirtual(reg *Registry, recipe VirtualRecipe, name string, deps []string) *VirtualRule {
	r := &VirtualRule{name: name, deps: deps, recipe: recipe}
	reg.Register(r)
	return r
}

// Lower than all file-based rules, so the virtual rule matches its
// name ahead of any file rule.
func (r *VirtualRule) Priority() float64 { return 0 }

func (r *VirtualRule) Name() string { return r.name }

// Match intentionally does not normalize: the target must literally
// equal the declared name.
func (r *VirtualRule) Match(tgt string) (Token, bool) {
	if tgt == r.name {
		return tgt, true
	}
	return nil, false
}

func (r *VirtualRule) Canonical(tok Token) string { return tok.(string) }

func (r *VirtualRule) Deps(Token) ([]string, error) { return r.deps, nil }

func (r *VirtualRule) NeedsSelfUpdate(Token, Result) bool { return false }

func (r *VirtualRule) Run(_ Token, inputs Inputs) (Result, error) {
	return r.recipe(inputs)
}

// ---------------------------------------------------------------------
// target-file
// ---------------------------------------------------------------------

// TargetRule builds a single fixed filepath. The recipe is called with
// the canonical path to build and the inputs; the containing directory
// is created first if needed, and the engine hashes the file after the
// recipe returns.
type TargetRule struct {
	path   string // canonical form, fixed at construction
	deps   []string
	recipe TargetRecipe
}

// NewTarget constructs and registers a target-file rule. The filepath
// is canonicalized here; invalid filepaths are rejected at declaration
// time.
func NewTarget(reg *Registry, recipe TargetRecipe, path string, deps []string) (*TargetRule, error) {
	canonical, err := target.Normalize(path)
	if err != nil {
		return nil, fmt.Errorf("invalid filepath for target rule: %s", err)
	}
	r := &TargetRule{path: canonical, deps: deps, recipe: recipe}
	reg.Register(r)
	return r, nil
}

// Prefer simple rules over pattern rules.
func (r *TargetRule) Priority() float64 { return 10 }

func (r *TargetRule) Name() string { return r.path }

func (r *TargetRule) Match(tgt string) (Token, bool) {
	path, err := target.Normalize(tgt)
	if err != nil {
		return nil, false
	}
	if path != r.path {
		return nil, false
	}
	return path, true
}

func (r *TargetRule) Canonical(tok Token) string { return tok.(string) }

func (r *TargetRule) Deps(Token) ([]string, error) { return r.deps, nil }

func (r *TargetRule) NeedsSelfUpdate(tok Token, prior Result) bool {
	return fileNeedsUpdate(tok.(string), prior)
}

func (r *TargetRule) Run(tok Token, inputs Inputs) (Result, error) {
	path := tok.(string)
	return runFileRecipe(path, func() error { return r.recipe(path, inputs) })
}

// ---------------------------------------------------------------------
// pattern-file
// ---------------------------------------------------------------------

// PatternRule builds filepaths matching a regex. Deps may contain
// back-references against the match (eg. "$1.c" where the pattern is
// `(.+)\.o`). Patterns apply to whole canonical filepaths, not just the
// filename.
type PatternRule struct {
	name   string
	re     *regexp.Regexp
	deps   []string
	recipe PatternRecipe
}

// NewPattern compiles the pattern and registers the rule. The effective
// regex tolerates a leading "./" since matching is fed canonicalized
// paths; only non-capturing constructs are added so group numbering is
// preserved.
func NewPattern(reg *Registry, recipe PatternRecipe, pattern string, deps []string) (*PatternRule, error) {
	re, err := regexp.Compile(`^(?:\./)?(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for pattern rule: %w", err)
	}
	r := &PatternRule{name: pattern, re: re, deps: deps, recipe: recipe}
	reg.Register(r)
	return r, nil
}

func (r *PatternRule) Priority() float64 { return 20 }

func (r *PatternRule) Name() string { return r.name }

func (r *PatternRule) Match(tgt string) (Token, bool) {
	path, err := target.Normalize(tgt)
	if err != nil {
		return nil, false
	}
	m := r.re.FindStringSubmatchIndex(path)
	if m == nil {
		return nil, false
	}
	return &Match{re: r.re, path: path, idx: m}, true
}

func (r *PatternRule) Canonical(tok Token) string { return tok.(*Match).Path() }

func (r *PatternRule) Deps(tok Token) ([]string, error) {
	m := tok.(*Match)
	deps := make([]string, len(r.deps))
	for i, dep := range r.deps {
		deps[i] = m.Expand(dep)
	}
	return deps, nil
}

func (r *PatternRule) NeedsSelfUpdate(tok Token, prior Result) bool {
	return fileNeedsUpdate(tok.(*Match).Path(), prior)
}

func (r *PatternRule) Run(tok Token, inputs Inputs) (Result, error) {
	m := tok.(*Match)
	return runFileRecipe(m.Path(), func() error { return r.recipe(m.Path(), inputs, m) })
}

// Match exposes a pattern rule's capture groups to recipes and to
// dependency expansion.
type Match struct {
	re   *regexp.Regexp
	path string
	idx  []int
}

// Path returns the matched canonical filepath.
func (m *Match) Path() string { return m.path }

// Group returns the text of the n-th capture group, or "" if the group
// did not participate in the match.
func (m *Match) Group(n int) string {
	if 2*n+1 >= len(m.idx) || m.idx[2*n] < 0 {
		return ""
	}
	return m.path[m.idx[2*n]:m.idx[2*n+1]]
}

// Expand substitutes $1, ${name} style references in template with the
// corresponding capture groups.
func (m *Match) Expand(template string) string {
	return string(m.re.ExpandString(nil, template, m.path, m.idx))
}

// ---------------------------------------------------------------------
// shared file-rule behaviour
// ---------------------------------------------------------------------

// fileNeedsUpdate reports whether the file's hash differs from the
// recorded result. A missing or unreadable file always needs update.
func fileNeedsUpdate(path string, prior Result) bool {
	hash, err := target.Hash(path)
	if err != nil {
		return true
	}
	priorHash, ok := prior.(string)
	return !ok || hash != priorHash
}

// runFileRecipe creates the target's directory if needed, runs the
// recipe, and hashes the resulting file. A recipe that returns success
// without creating the file is a rule error.
func runFileRecipe(path string, recipe func() error) (Result, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := recipe(); err != nil {
		return nil, err
	}
	hash, err := target.Hash(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Rulef("recipe ran successfully but did not create the file")
		}
		return nil, err
	}
	return hash, nil
}
