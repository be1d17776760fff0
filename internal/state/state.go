// Package state persists build results between invocations.
//
// The store backs a JSON dictionary on disk, mapping each canonical
// target to the inputs and result of its last successful build. An
// exclusive advisory lock on the open descriptor guarantees at most one
// pake instance uses a given state file at a time, and saves go through
// an atomic tempfile-and-rename protocol so a crash mid-save leaves the
// previous contents intact.
package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Record is the persisted state of one target: the results of its
// declared dependencies at build time, keyed by the verbatim dependency
// strings, and the result the rule produced.
type Record struct {
	Inputs map[string]any `json:"inputs"`
	Result any            `json:"result"`
}

// LockedError reports that another process holds the state-file lock.
type LockedError struct {
	Path string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("the state file %q is locked - is another instance of pake running?", e.Path)
}

// Store is an open, locked state file with its contents loaded.
type Store struct {
	path string
	file *os.File
	data map[string]Record
}

// Open opens or creates the state file at path, acquires an exclusive
// non-blocking advisory lock on it, and loads its contents. If the lock
// is held elsewhere, Open fails immediately with a LockedError.
//
// After locking, the opened descriptor's (device, inode) is compared
// with a fresh stat of the path. A mismatch means another writer
// replaced the file between our open and lock, leaving us holding the
// lock on an orphaned inode; we close and retry the whole sequence.
func Open(path string) (*Store, error) {
	for {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening state file %s: %w", path, err)
		}

		if err := lock(f); err != nil {
			f.Close()
			if err == unix.EWOULDBLOCK {
				return nil, &LockedError{Path: path}
			}
			return nil, fmt.Errorf("locking state file %s: %w", path, err)
		}

		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat state file %s: %w", path, err)
		}
		pi, err := os.Stat(path)
		if err != nil || !os.SameFile(fi, pi) {
			// The file was renamed away under us. Our lock is on a
			// dead inode; start over on the current file.
			f.Close()
			continue
		}

		data, err := load(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &Store{path: path, file: f, data: data}, nil
	}
}

// lock takes an exclusive non-blocking flock on the file's descriptor.
// The lock is released implicitly when the descriptor is closed.
func lock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// load reads and parses the state file. An empty file (just created) is
// an empty map.
func load(f *os.File) (map[string]Record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking state file: %w", err)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	data := make(map[string]Record)
	if len(content) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", f.Name(), err)
	}
	return data, nil
}

// Get returns the record for a target, if one is stored.
func (s *Store) Get(target string) (Record, bool) {
	rec, ok := s.data[target]
	return rec, ok
}

// Contains reports whether a record for the target is stored.
func (s *Store) Contains(target string) bool {
	_, ok := s.data[target]
	return ok
}

// Put stores the record for a target and saves the file.
func (s *Store) Put(target string, rec Record) error {
	s.data[target] = rec
	return s.save()
}

// save rewrites the state file in full via atomic replace. The tempfile
// is locked BEFORE the rename so there is no window in which another
// pake instance can open and lock the new state file ahead of us. Once
// the rename lands, the old descriptor's inode is unreachable and its
// lock can be dropped by closing it.
func (s *Store) save() error {
	data, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	nf, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp state file %s: %w", tmp, err)
	}
	if _, err := nf.Write(append(data, '\n')); err != nil {
		nf.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp state file %s: %w", tmp, err)
	}
	if err := nf.Sync(); err != nil {
		nf.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp state file %s: %w", tmp, err)
	}
	if err := lock(nf); err != nil {
		nf.Close()
		os.Remove(tmp)
		return fmt.Errorf("locking temp state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		nf.Close()
		os.Remove(tmp)
		return fmt.Errorf("replacing state file %s: %w", s.path, err)
	}

	// The old file is now un-openable by path, so releasing its lock is
	// safe. The new descriptor stays open to hold the lock.
	s.file.Close()
	s.file = nf
	return nil
}

// Close releases the state-file lock by closing the held descriptor.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
