// Package change classifies the differences between two fingerprint snapshots.
//
// Detect compares a previous and a current snapshot by normalized path and content,
// reporting each discrepancy as an addition, removal or modification to a Sink.
// Sinks may stop the report early; that is a normal truncation, not an error.
package change

import (
	"fmt"

	"upcheck/internal/fingerprint"
)

// Type discriminates the variants of Change.
type Type uint8

const (
	Added Type = iota + 1
	Removed
	Modified
)

func (t Type) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Change is one classified difference between two snapshots.
//
// PreviousKind is KindMissing for additions and CurrentKind is KindMissing for
// removals, so both kinds are always meaningful.
type Change struct {
	Type Type

	// Property is the caller-supplied label of the file set, used verbatim.
	Property string

	// Location identifies the entry for humans. For modifications it is the
	// location recorded in the previous snapshot.
	Location string

	NormalizedPath string
	PreviousKind   fingerprint.FileKind
	CurrentKind    fingerprint.FileKind
}

// NewAdded reports an entry present only in the current snapshot.
func NewAdded(property, location, normalizedPath string, kind fingerprint.FileKind) Change {
	return Change{
		Type:           Added,
		Property:       property,
		Location:       location,
		NormalizedPath: normalizedPath,
		PreviousKind:   fingerprint.KindMissing,
		CurrentKind:    kind,
	}
}

// NewRemoved reports an entry present only in the previous snapshot.
func NewRemoved(property, location, normalizedPath string, kind fingerprint.FileKind) Change {
	return Change{
		Type:           Removed,
		Property:       property,
		Location:       location,
		NormalizedPath: normalizedPath,
		PreviousKind:   kind,
		CurrentKind:    fingerprint.KindMissing,
	}
}

// NewModified reports content that changed at the same normalized path.
func NewModified(property, location, normalizedPath string, previous, current fingerprint.FileKind) Change {
	return Change{
		Type:           Modified,
		Property:       property,
		Location:       location,
		NormalizedPath: normalizedPath,
		PreviousKind:   previous,
		CurrentKind:    current,
	}
}

// Message renders the change as a one-line explanation.
func (c Change) Message() string {
	if c.Type == Modified && c.PreviousKind != c.CurrentKind {
		return fmt.Sprintf("%s file %s has changed from %s to %s.", c.Property, c.Location, c.PreviousKind, c.CurrentKind)
	}
	return fmt.Sprintf("%s file %s has been %s.", c.Property, c.Location, c.Type)
}

func (c Change) String() string { return c.Message() }
