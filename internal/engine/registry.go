package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pakebuild/pake/internal/state"
	"github.com/pakebuild/pake/internal/vlog"
)

// Registry holds rule definitions and the state needed to know what
// targets need building. Generally there is only one registry per
// invocation.
//
// The rule list is kept sorted non-decreasingly by priority, with
// registration order preserved within ties. The implicit rules are
// present from construction: always first, fallback last.
type Registry struct {
	state *state.Store
	rules []Rule
	nonce string
	rec   Recorder
}

// Recorder receives one notification per driven target. The history
// store implements it; a nil recorder disables recording.
type Recorder interface {
	Record(target, action, reason string, elapsed time.Duration)
}

// New opens the state store at statePath and seeds the implicit rules.
// Fails fast with a *state.LockedError if another instance holds the
// state-file lock.
func New(statePath string) (*Registry, error) {
	st, err := state.Open(statePath)
	if err != nil {
		return nil, err
	}
	r := &Registry{state: st, nonce: Unique()}
	newAlwaysRule(r)
	newFallbackRule(r)
	return r, nil
}

// Close releases the state-file lock.
func (r *Registry) Close() error {
	return r.state.Close()
}

// SetRecorder installs the run recorder.
func (r *Registry) SetRecorder(rec Recorder) {
	r.rec = rec
}

// Unique returns this registry's per-invocation nonce, fixed at
// construction and distinguishable from any file digest.
func (r *Registry) Unique() string {
	return r.nonce
}

// Register inserts a rule at the position maintaining priority order.
// Rules with equal priority stay in registration order.
func (r *Registry) Register(rule Rule) {
	i := sort.Search(len(r.rules), func(i int) bool {
		return r.rules[i].Priority() > rule.Priority()
	})
	r.rules = append(r.rules, nil)
	copy(r.rules[i+1:], r.rules[i:])
	r.rules[i] = rule
}

// Resolve finds the first rule in priority order whose Match claims the
// target. The fallback rule matches everything, so resolution always
// succeeds.
func (r *Registry) Resolve(tgt string) (Rule, Token) {
	for _, rule := range r.rules {
		tok, ok := rule.Match(tgt)
		if ok {
			vlog.Printf(3, "resolve %s: matched %s", vlog.Cyan(tgt), rule.Name())
			return rule, tok
		}
		vlog.Printf(3, "resolve %s: no match from %s", vlog.Cyan(tgt), rule.Name())
	}
	panic("no rules matched (not even fallback rule)")
}

// IsFallback reports whether the rule is the implicit fallback. The CLI
// uses this to detect that no "default" rule was declared.
func (r *Registry) IsFallback(rule Rule) bool {
	_, ok := rule.(fallbackRule)
	return ok
}

// NeedsUpdate compares the new inputs against the stored record's
// inputs and returns a human-readable reason the target must rebuild,
// or "" if it is up to date as far as inputs are concerned.
func (r *Registry) NeedsUpdate(tgt string, inputs Inputs) string {
	rec, ok := r.state.Get(tgt)
	if !ok {
		return "not cached"
	}
	if _, ok := inputs["always"]; ok {
		return "depends on always"
	}
	if !sameKeys(inputs, rec.Inputs) {
		return "dependency list changed"
	}
	var changed []string
	for dep, res := range inputs {
		if !resultsEqual(res, rec.Inputs[dep]) {
			changed = append(changed, dep)
		}
	}
	if len(changed) > 0 {
		sort.Strings(changed)
		return "dependencies changed: " + strings.Join(changed, ", ")
	}
	return ""
}

// SaveResult persists the new result for the target along with the
// inputs that produced it. Results are validated serializable here,
// since virtual recipes may return arbitrary values.
func (r *Registry) SaveResult(tgt string, inputs Inputs, result Result) error {
	rec := state.Record{Inputs: inputs, Result: result}
	if _, err := json.Marshal(rec); err != nil {
		return fmt.Errorf("result for %s is not serializable: %w", tgt, err)
	}
	return r.state.Put(tgt, rec)
}

// GetResult returns the most recent result for the target, even if it
// is out of date.
func (r *Registry) GetResult(tgt string) (Result, bool) {
	rec, ok := r.state.Get(tgt)
	if !ok {
		return nil, false
	}
	return rec.Result, true
}

// Contains reports whether a result is recorded for the target.
func (r *Registry) Contains(tgt string) bool {
	return r.state.Contains(tgt)
}

// sameKeys reports whether two input maps have identical key sets.
func sameKeys(a Inputs, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// resultsEqual compares two results through their canonical JSON
// encoding. New results come from recipes as native Go values while
// stored ones come back from the JSON parser, so structural comparison
// would see int vs float64; comparing encodings sidesteps that.
func resultsEqual(a, b Result) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
