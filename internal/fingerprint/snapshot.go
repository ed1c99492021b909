package fingerprint

import (
	"errors"
	"fmt"
	"iter"
)

// ErrDuplicateLocation is returned when a snapshot is built with the same location twice.
var ErrDuplicateLocation = errors.New("duplicate location in snapshot")

// Snapshot is an immutable mapping from location identifier to Value.
//
// Iteration follows insertion order. That order is part of the contract: change
// detection breaks ties between equally ranked duplicates by it.
//
// The zero Snapshot is empty and ready to use.
type Snapshot struct {
	entries []Located
	index   map[string]int
}

// NewSnapshot builds a Snapshot from entries in the given order.
func NewSnapshot(entries ...Located) (Snapshot, error) {
	s := Snapshot{
		entries: make([]Located, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, dup := s.index[e.Location]; dup {
			return Snapshot{}, fmt.Errorf("%w: %q", ErrDuplicateLocation, e.Location)
		}
		s.index[e.Location] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// MustSnapshot is like NewSnapshot but panics on a duplicate location.
func MustSnapshot(entries ...Located) Snapshot {
	s, err := NewSnapshot(entries...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of entries.
func (s Snapshot) Len() int { return len(s.entries) }

// Get returns the value recorded for location.
func (s Snapshot) Get(location string) (Value, bool) {
	i, ok := s.index[location]
	if !ok {
		return Value{}, false
	}
	return s.entries[i].Value, true
}

// All iterates location/value pairs in insertion order.
func (s Snapshot) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, e := range s.entries {
			if !yield(e.Location, e.Value) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries in insertion order.
func (s Snapshot) Entries() []Located {
	out := make([]Located, len(s.entries))
	copy(out, s.entries)
	return out
}

// Values returns the values in insertion order, without locations.
func (s Snapshot) Values() []Value {
	out := make([]Value, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Value
	}
	return out
}

// Digest folds the snapshot's values into one digest. Locations and insertion
// order do not contribute.
func (s Snapshot) Digest(alg Algorithm) Digest {
	return alg.Combine(s.Values())
}
