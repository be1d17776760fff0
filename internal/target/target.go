// Package target canonicalizes target paths and hashes file contents.
//
// A file target is always stored in canonical form "./<relpath>" where
// <relpath> is the path relative to the process working directory. The
// "./" prefix is what distinguishes file targets from virtual targets:
// a virtual target named "build" and a file called "build" can coexist,
// addressed as "build" and "./build" respectively.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// hashChunkSize bounds memory usage when hashing large files.
const hashChunkSize = 64 * 1024

// Normalize converts a user-supplied filepath into canonical "./<relpath>"
// form, or returns an error describing why the path is malformed.
//
// Normalization collapses redundant separators and "." / ".." segments.
// Paths that resolve outside the working directory are rejected so that
// two spellings of the same file always canonicalize identically and the
// state file never records entries outside the build tree.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New("cannot be empty string")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", errors.New("may not contain null bytes")
	}

	p := filepath.ToSlash(path)
	if filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determining working directory: %w", err)
		}
		rel, err := filepath.Rel(wd, path)
		if err != nil {
			return "", errors.New("cannot be outside current directory")
		}
		p = filepath.ToSlash(rel)
	}

	// Clean collapses "foo//bar/.." -> "foo" and leaves only two cases
	// to check: "../PATH" (escapes the working directory) and "PATH".
	p = filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.New("cannot be outside current directory")
	}
	return "./" + p, nil
}

// Hash digests the contents of the given file, returning a hex string.
// For directories, the digest covers the NUL-joined sorted list of
// immediate child names (not recursive).
//
// Symlinks are followed intentionally: we are interested in content. A
// user who wants rebuilds on symlink retargeting alone can use a virtual
// rule that calls readlink.
//
// A missing file reports os.ErrNotExist, which callers distinguish from
// other I/O failures.
func Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		names, err := listDir(path)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256([]byte(strings.Join(names, "\x00")))
		return hex.EncodeToString(sum[:]), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize)); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// listDir returns the sorted names of a directory's immediate children.
func listDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
