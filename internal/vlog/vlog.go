// Package vlog prints build narration at configurable verbosity levels.
//
// The level is the verbose count minus the quiet count from the CLI:
//
//	-1  errors only
//	 0  normal output (recipes run)
//	 1  skipped targets, recipe command echo
//	 2  per-target results
//	 3  per-rule resolution trace
//
// Color output is enabled only when stdout is a terminal, and can be
// forced off.
package vlog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var level = 0

// Init sets the global verbosity level and enables or disables color.
func Init(verbosity int, colorEnabled bool) {
	level = verbosity
	color.NoColor = !colorEnabled
}

// AutoColor reports whether stdout is a terminal, the default for
// whether color output should be enabled.
func AutoColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Printf prints to stdout if v is at or below the current level.
func Printf(v int, format string, args ...any) {
	if v <= level {
		fmt.Fprintf(os.Stdout, format+"\n", args...)
	}
}

// Errorf prints to stderr unless the level is below -1 (-qq silences
// everything, though recipes may still run commands that print).
func Errorf(format string, args ...any) {
	if -1 <= level {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

var (
	// Cyan highlights target names in chains and narration.
	Cyan = color.New(color.FgCyan).SprintFunc()
	// Green is a success highlight; no pake output uses it.
	Green = color.New(color.FgGreen).SprintFunc()
	// Yellow marks skipped (up to date) targets.
	Yellow = color.New(color.FgYellow).SprintFunc()
	// Red marks failures.
	Red = color.New(color.FgRed).SprintFunc()
)
