package engine

import (
	"errors"
	"time"

	"github.com/pakebuild/pake/internal/vlog"
)

// RebuildMode controls how the cache is consulted during an update.
type RebuildMode int

const (
	// RebuildNone uses the cache normally.
	RebuildNone RebuildMode = iota
	// RebuildShallow forces a re-run of the top-level target only; its
	// dependencies still obey the cache.
	RebuildShallow
	// RebuildDeep forces a re-run of every target transitively touched.
	RebuildDeep
)

// Update builds the target and any of its dependencies that are not up
// to date, returning the target's result.
func (r *Registry) Update(tgt string, mode RebuildMode) (Result, error) {
	rule, tok := r.Resolve(tgt)
	return r.update(rule, tok, mode, nil)
}

// update is the recursive driver. chain is the ordered list of ancestor
// canonical targets, used for cycle detection and error reporting.
func (r *Registry) update(rule Rule, tok Token, mode RebuildMode, chain []string) (Result, error) {
	tgt := rule.Canonical(tok)

	for _, ancestor := range chain {
		if ancestor == tgt {
			return nil, &BuildError{Chain: append(chain, tgt), Message: "dependency cycle detected"}
		}
	}
	// Full-slice expression: sibling recursions must not share the
	// appended element's backing array.
	chain = append(chain[:len(chain):len(chain)], tgt)

	deps, err := rule.Deps(tok)
	if err != nil {
		return nil, &BuildError{Chain: chain, Message: "failed to determine dependencies", Cause: err}
	}

	// Deep rebuilds propagate; a shallow rebuild forces only the target
	// it was requested for.
	childMode := mode
	if mode == RebuildShallow {
		childMode = RebuildNone
	}

	inputs := make(Inputs, len(deps))
	for _, dep := range deps {
		depRule, depTok := r.Resolve(dep)
		res, err := r.update(depRule, depTok, childMode, chain)
		if err != nil {
			return nil, err
		}
		// Intentionally keyed by the verbatim dependency string, not
		// its canonical form, so any change in how the dep is spelled
		// invalidates this target's cache.
		inputs[dep] = res
	}

	start := time.Now()
	reason := ""
	switch {
	case mode != RebuildNone:
		reason = "forced rebuild"
	default:
		reason = r.NeedsUpdate(tgt, inputs)
		if reason == "" {
			prior, _ := r.GetResult(tgt)
			if rule.NeedsSelfUpdate(tok, prior) {
				reason = "target out of date"
			}
		}
	}

	if reason == "" {
		vlog.Printf(1, "%s is up to date", vlog.Yellow(tgt))
		r.record(tgt, "cached", "", start)
	} else {
		vlog.Printf(0, "building %s (%s)", vlog.Cyan(tgt), reason)
		result, err := rule.Run(tok, inputs)
		if err != nil {
			r.record(tgt, "failed", err.Error(), start)
			var rerr *RuleError
			if errors.As(err, &rerr) {
				// Deliberate recipe failure: report the message alone.
				return nil, &BuildError{Chain: chain, Message: rerr.Message}
			}
			return nil, &BuildError{Chain: chain, Message: "recipe failed", Cause: err}
		}
		if err := r.SaveResult(tgt, inputs, result); err != nil {
			return nil, &BuildError{Chain: chain, Message: "failed to save result", Cause: err}
		}
		r.record(tgt, "built", reason, start)
	}

	res, ok := r.GetResult(tgt)
	if !ok {
		return nil, &BuildError{Chain: chain, Message: "no result recorded after update"}
	}
	vlog.Printf(2, "%s result: %v", vlog.Cyan(tgt), res)
	return res, nil
}

func (r *Registry) record(tgt, action, reason string, start time.Time) {
	if r.rec != nil {
		r.rec.Record(tgt, action, reason, time.Since(start))
	}
}

// DepNode is one node of a dependency tree: the target as declared
// (verbatim at the root of each hop) and the subtrees of its deps.
type DepNode struct {
	Target string
	Deps   []DepNode
}

// DepTrees returns the transitive dependency tree of each requested
// target without running any recipes. It reuses the same resolution
// and cycle detection as Update.
func (r *Registry) DepTrees(targets []string) ([]DepNode, error) {
	nodes := make([]DepNode, 0, len(targets))
	for _, tgt := range targets {
		rule, tok := r.Resolve(tgt)
		node, err := r.depTree(rule, tok, tgt, nil)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (r *Registry) depTree(rule Rule, tok Token, name string, chain []string) (DepNode, error) {
	tgt := rule.Canonical(tok)

	for _, ancestor := range chain {
		if ancestor == tgt {
			return DepNode{}, &BuildError{Chain: append(chain, tgt), Message: "dependency cycle detected"}
		}
	}
	chain = append(chain[:len(chain):len(chain)], tgt)

	deps, err := rule.Deps(tok)
	if err != nil {
		return DepNode{}, &BuildError{Chain: chain, Message: "failed to determine dependencies", Cause: err}
	}

	node := DepNode{Target: name}
	for _, dep := range deps {
		depRule, depTok := r.Resolve(dep)
		child, err := r.depTree(depRule, depTok, dep, chain)
		if err != nil {
			return DepNode{}, err
		}
		node.Deps = append(node.Deps, child)
	}
	return node, nil
}
