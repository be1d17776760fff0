package engine

import (
	"fmt"
	"strings"

	"github.com/pakebuild/pake/internal/vlog"
)

// UserError is a failure that should be reported to the user as a plain
// message, without a traceback unless a cause is attached. Missing
// build files, lock contention and a missing default target all
// surface this way.
type UserError struct {
	Message string
	Cause   error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Cause }

// Userf builds a UserError from a format string.
func Userf(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// BuildError is a failure while building or resolving dependencies. It
// carries the ordered chain of targets from the originally requested
// target down to the failing one. Cause is attached when an underlying
// error is wrapped (unexpected recipe failures, failures to determine
// dependencies or to save a result), so diagnostics can render it;
// deliberate RuleErrors propagate as just the message.
type BuildError struct {
	Chain   []string
	Message string
	Cause   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", chainString(e.Chain), e.Message)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// chainString renders a target chain as "a -> b -> c" with each target
// highlighted.
func chainString(chain []string) string {
	parts := make([]string, len(chain))
	for i, t := range chain {
		parts[i] = vlog.Cyan(t)
	}
	return strings.Join(parts, " -> ")
}

// RuleError is raised inside a recipe to signal an expected failure,
// eg. an unmet precondition. It is wrapped into a BuildError and
// reported as just the message.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string { return e.Message }

// Rulef builds a RuleError from a format string.
func Rulef(format string, args ...any) *RuleError {
	return &RuleError{Message: fmt.Sprintf(format, args...)}
}
