// Package fswalk lists files for use as rule dependencies.
//
// Listing is deterministic (sorted, canonical "./" paths) so that a
// rule whose deps come from a walk produces a stable dependency list
// across invocations; an added or removed file changes the list and
// invalidates the dependent's cache.
package fswalk

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"github.com/pakebuild/pake/internal/target"
)

// Find returns the canonical paths of all non-directory entries under
// root (regular files, symlinks and the like), recursively, sorted.
func Find(root string) ([]string, error) {
	return walk(root, nil)
}

// Glob returns the canonical paths of all files under the working
// directory whose working-directory-relative slash path matches the
// pattern. Patterns use gobwas/glob syntax with '/' as separator, so
// "*" stops at path boundaries and "**" crosses them.
func Glob(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return walk(".", g)
}

func walk(root string, g glob.Glob) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(path)
		if g != nil && !g.Match(rel) {
			return nil
		}
		canonical, err := target.Normalize(path)
		if err != nil {
			return fmt.Errorf("walking %s: %w", root, err)
		}
		files = append(files, canonical)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
