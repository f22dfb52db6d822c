// Package staging holds the values steps of one run hand to each other.
//
// A Store belongs to exactly one run. Every key is written once; a second
// write to the same key is an error, so a downstream step can never observe
// a value change under it. The coordinator only starts a step after all of
// its upstream steps are recorded successful, which is what makes staged
// values visible to dependents; the Store itself does not order steps.
package staging

import (
	"sort"
	"sync"

	"github.com/teranos/windturbine/errors"
)

// Key names one staged value
type Key string

var (
	// ErrKeyExists is returned when a key is written a second time
	ErrKeyExists = errors.New("staging key already written")

	// ErrMissingKey is returned when a key was never staged
	ErrMissingKey = errors.New("staging key not found")

	// ErrWrongType is returned by Get when the staged value has another type
	ErrWrongType = errors.New("staged value has unexpected type")
)

// Store is a write-once key/value record scoped to one run.
// Safe for concurrent use.
type Store struct {
	runID  string
	mu     sync.RWMutex
	values map[Key]any
}

// New returns an empty store for runID
func New(runID string) *Store {
	return &Store{runID: runID, values: make(map[Key]any)}
}

// RunID returns the run this store belongs to
func (s *Store) RunID() string {
	return s.runID
}

// Put stages a single value
func (s *Store) Put(key Key, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; ok {
		return errors.Wrapf(ErrKeyExists, "key %q in run %s", key, s.runID)
	}
	s.values[key] = value
	return nil
}

// PutAll stages every value or none of them.
func (s *Store) PutAll(values map[Key]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range values {
		if _, ok := s.values[key]; ok {
			return errors.Wrapf(ErrKeyExists, "key %q in run %s", key, s.runID)
		}
	}
	for key, value := range values {
		s.values[key] = value
	}
	return nil
}

// Lookup returns the raw staged value
func (s *Store) Lookup(key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key was staged
func (s *Store) Has(key Key) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Keys returns staged keys in sorted order
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot returns a copy of all staged values
func (s *Store) Snapshot() map[Key]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Key]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Get returns the value staged under key as a T.
func Get[T any](s *Store, key Key) (T, error) {
	var zero T
	raw, ok := s.Lookup(key)
	if !ok {
		return zero, errors.Wrapf(ErrMissingKey, "key %q in run %s", key, s.runID)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, errors.Wrapf(ErrWrongType, "key %q holds %T", key, raw)
	}
	return v, nil
}
