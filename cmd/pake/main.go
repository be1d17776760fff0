// Package main is the CLI entry point for pake — an incremental build
// orchestrator driven by a declarative build file.
//
// A Pakefile declares named targets, each with a rule describing how to
// produce it and what other targets it depends on. Running pake with a
// list of target names drives each one to an up-to-date state,
// transitively evaluating dependencies, skipping work whose recorded
// inputs are unchanged, and persisting results for future invocations.
//
// CLI commands (cobra):
//
//	pake [targets...]   - build targets (default: the "default" target)
//	pake history        - show recent build runs
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pakebuild/pake/internal/engine"
	"github.com/pakebuild/pake/internal/history"
	"github.com/pakebuild/pake/internal/pakefile"
	"github.com/pakebuild/pake/internal/state"
	"github.com/pakebuild/pake/internal/vlog"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0"
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError renders a single-line summary, plus the underlying cause
// when one is attached (unexpected recipe failures carry their cause
// for diagnostics; deliberate rule errors do not).
func reportError(err error) {
	vlog.Errorf("%s", vlog.Red("pake:")+" "+err.Error())
	if cause := errors.Unwrap(err); cause != nil {
		vlog.Errorf("caused by: %+v", cause)
	}
}

// ============================================================================
// Root command — build targets
// ============================================================================

var (
	pakefilePath  string
	statefilePath string
	historyPath   string
	rebuild       bool
	rebuildAll    bool
	showGraph     bool
	verboseCount  int
	quietCount    int
	noColor       bool
)

var rootCmd = &cobra.Command{
	Use:   "pake [targets...]",
	Short: "pake — incremental build orchestrator",
	Long: `pake drives build targets to an up-to-date state.

Targets, their dependencies and their recipes are declared in a
Pakefile. pake skips any target whose recorded inputs are unchanged,
using content hashes rather than timestamps, and persists results in a
state file between invocations.`,
	Version:       version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pakefilePath, "pakefile", "f", "",
		fmt.Sprintf("Build file path (default: first of %s)", strings.Join(pakefile.DefaultNames, ", ")))
	rootCmd.PersistentFlags().StringVar(&statefilePath, "statefile", ".pake-state",
		"Filepath to store cache state")
	rootCmd.PersistentFlags().StringVar(&historyPath, "historyfile", ".pake-history",
		"Filepath to store run history")
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v",
		"Print additional information. Repeat for more: skipped targets and recipe commands, per-target results, rule resolution trace")
	rootCmd.PersistentFlags().CountVarP(&quietCount, "quiet", "q",
		"Restrict output to errors only; twice to never output anything (recipes may still print)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
	rootCmd.Flags().BoolVar(&rebuild, "rebuild", false,
		"Re-run the requested targets even if up to date (their deps still obey the cache)")
	rootCmd.Flags().BoolVar(&rebuildAll, "rebuild-all", false,
		"Re-run the requested targets and everything they transitively depend on")
	rootCmd.Flags().BoolVar(&showGraph, "graph", false,
		"Instead of building, print the dependency tree of the requested targets")

	rootCmd.AddCommand(historyCmd)
}

// runBuild loads the build file, then drives each requested target
// through the update driver.
func runBuild(targets []string) error {
	vlog.Init(verboseCount-quietCount, !noColor && vlog.AutoColor())

	path := pakefilePath
	if path == "" {
		found, ok := pakefile.FindDefault()
		if !ok {
			return engine.Userf("could not find Pakefile, are you in the right directory?")
		}
		path = found
	}

	reg, err := engine.New(statefilePath)
	if err != nil {
		var locked *state.LockedError
		if errors.As(err, &locked) {
			return &engine.UserError{Message: locked.Error()}
		}
		return err
	}
	defer reg.Close()

	if hist, err := history.Open(historyPath); err == nil {
		defer hist.Close()
		reg.SetRecorder(hist)
	} else {
		// History is best-effort; a broken database never fails a build.
		vlog.Printf(1, "history disabled: %s", err)
	}

	if err := pakefile.Load(path, reg); err != nil {
		return &engine.UserError{Message: "malformed build file", Cause: err}
	}

	if len(targets) == 0 {
		rule, _ := reg.Resolve("default")
		if reg.IsFallback(rule) {
			return engine.Userf("no targets given and no default target defined")
		}
		targets = []string{"default"}
	}

	if showGraph {
		trees, err := reg.DepTrees(targets)
		if err != nil {
			return err
		}
		for _, tree := range trees {
			printTree(tree, 0)
		}
		return nil
	}

	mode := engine.RebuildNone
	switch {
	case rebuildAll:
		mode = engine.RebuildDeep
	case rebuild:
		mode = engine.RebuildShallow
	}

	for _, tgt := range targets {
		if _, err := reg.Update(tgt, mode); err != nil {
			return err
		}
	}
	return nil
}

// printTree prints a dependency tree as an indented list. This output
// is unconditional (no verbosity gate): it was specifically requested.
func printTree(node engine.DepNode, indent int) {
	fmt.Printf("%s%s\n", strings.Repeat("  ", indent), node.Target)
	for _, dep := range node.Deps {
		printTree(dep, indent+1)
	}
}

// ============================================================================
// pake history — show recent build runs
// ============================================================================

var (
	historyLimit  int
	historyTarget string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent build runs",
	Long: `Show the most recent build runs recorded in the history database:
what was built, what was served from cache, why, and how long it took.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries to show")
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "Only show runs for this target")
}

func runHistory() error {
	vlog.Init(verboseCount-quietCount, !noColor && vlog.AutoColor())

	hist, err := history.Open(historyPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	entries, err := hist.Tail(historyTarget, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-7s %s (%s)", e.Timestamp, e.Action, e.Target, e.Duration)
		if e.Reason != "" {
			line += "  " + e.Reason
		}
		fmt.Println(line)
	}
	return nil
}
