package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/drone-hub/hub/internal/apierr"
)

// Store is the atomic, single-writer persistence layer for a Registry
// document. update is the only mutation path: it is serialized in-process
// by mu and cross-process by an advisory file lock, so a second
// accidentally-started Hub process cannot corrupt the document.
type Store struct {
	path string
	mu   sync.RWMutex
	reg  *Registry

	// flock guards concurrent writers across processes. It is not needed
	// for in-process safety (mu already serializes that) -- it is a
	// belt-and-suspenders guard against a second Hub instance pointed at
	// the same registry file.
	flock *flock.Flock
}

// Open loads path into memory (creating an empty document if it does not
// yet exist) and returns a ready-to-use Store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		flock: flock.New(path + ".lock"),
	}
	reg, err := readRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	s.reg = reg
	return s, nil
}

func readRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return NewRegistry(), nil
	}
	reg := NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse registry document: %w", err)
	}
	if reg.Drones == nil {
		reg.Drones = make(map[string]*Drone)
	}
	if reg.Pending == nil {
		reg.Pending = make(map[string]*PendingDrone)
	}
	if reg.Archived == nil {
		reg.Archived = make(map[string]*ArchivedDrone)
	}
	return reg, nil
}

// Load returns a deep copy of the current registry snapshot. Callers may
// hold the result indefinitely; it will never be mutated by Update.
func (s *Store) Load() *Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.reg)
}

// Mutator mutates reg in place and returns a caller-defined result. A
// non-nil error aborts the update: no changes are persisted or kept
// in-memory.
type Mutator[T any] func(reg *Registry) (T, error)

// Update performs an atomic read-modify-write: it takes the write lock,
// runs fn against a working copy, and on success both persists the result
// to disk and swaps it in as the new in-memory snapshot. On error from fn,
// neither the in-memory state nor the on-disk file is changed.
func Update[T any](s *Store, fn Mutator[T]) (T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flock.Lock(); err != nil {
		return zero, fmt.Errorf("registry: acquire file lock: %w", err)
	}
	defer s.flock.Unlock()

	working := deepCopy(s.reg)
	result, err := fn(working)
	if err != nil {
		return zero, err
	}
	if err := persist(s.path, working); err != nil {
		return zero, apierr.Internal("registry_write_failed", "could not persist registry").Wrap(err)
	}
	s.reg = working
	return result, nil
}

// persist writes reg to path via write-temp-then-rename, which is atomic
// on POSIX filesystems: a reader never observes a partially written file.
func persist(path string, reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

// deepCopy round-trips through JSON to produce an independent copy. The
// registry document is small (single-digit MB at most, per spec.md §5's
// resource budget) so this is cheap relative to the disk write it
// precedes, and it guarantees no aliasing bugs between snapshots sneak in
// as the schema grows.
func deepCopy(reg *Registry) *Registry {
	data, err := json.Marshal(reg)
	if err != nil {
		// Marshaling our own in-memory state should never fail; if it
		// does, something is badly wrong with a type in this package.
		panic(fmt.Sprintf("registry: deep copy marshal failed: %v", err))
	}
	out := NewRegistry()
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("registry: deep copy unmarshal failed: %v", err))
	}
	return out
}
