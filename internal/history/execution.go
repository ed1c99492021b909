// Package history persists the input snapshots of previous executions so the next
// build can tell what changed since.
package history

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"upcheck/internal/fingerprint"
)

// ErrWorkRequired is returned for an execution or lookup without a work name.
var ErrWorkRequired = errors.New("history: work name is required")

// Entry is the stored form of one located fingerprint.
type Entry struct {
	Location string               `json:"location"`
	Path     string               `json:"path"`
	Kind     fingerprint.FileKind `json:"kind"`
	Digest   fingerprint.Digest   `json:"digest"`
}

// Execution records the inputs one unit of work consumed when it last ran.
type Execution struct {
	ID         uuid.UUID          `json:"id"`
	Work       string             `json:"work"`
	RecordedAt time.Time          `json:"recorded_at"`
	Properties map[string][]Entry `json:"properties"`
}

// NewExecution captures snapshots for work. Entries keep their snapshot order.
func NewExecution(work string, snapshots map[string]fingerprint.Snapshot, recordedAt time.Time) Execution {
	props := make(map[string][]Entry, len(snapshots))
	for name, s := range snapshots {
		entries := make([]Entry, 0, s.Len())
		for loc, v := range s.All() {
			entries = append(entries, Entry{Location: loc, Path: v.NormalizedPath, Kind: v.Kind, Digest: v.Digest})
		}
		props[name] = entries
	}
	return Execution{
		ID:         uuid.New(),
		Work:       work,
		RecordedAt: recordedAt.UTC(),
		Properties: props,
	}
}

// PropertyNames returns the recorded property labels in sorted order.
func (e Execution) PropertyNames() []string {
	return slices.Sorted(maps.Keys(e.Properties))
}

// Snapshots rebuilds the recorded snapshots.
func (e Execution) Snapshots() (map[string]fingerprint.Snapshot, error) {
	out := make(map[string]fingerprint.Snapshot, len(e.Properties))
	for name, entries := range e.Properties {
		located := make([]fingerprint.Located, len(entries))
		for i, en := range entries {
			located[i] = fingerprint.Located{
				Location: en.Location,
				Value:    fingerprint.NewValue(en.Path, en.Kind, en.Digest),
			}
		}
		s, err := fingerprint.NewSnapshot(located...)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// Validate reports every structural problem of e.
func (e Execution) Validate() error {
	var errs []error
	if e.ID == uuid.Nil {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(e.Work) == "" {
		errs = append(errs, ErrWorkRequired)
	}
	if e.RecordedAt.IsZero() {
		errs = append(errs, errors.New("recorded_at is required"))
	}
	for _, name := range e.PropertyNames() {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("property names must not be empty"))
		}
		seen := make(map[string]bool, len(e.Properties[name]))
		for i, en := range e.Properties[name] {
			if en.Location == "" {
				errs = append(errs, fmt.Errorf("properties[%q][%d].location is required", name, i))
			}
			if seen[en.Location] {
				errs = append(errs, fmt.Errorf("properties[%q][%d]: duplicate location %q", name, i, en.Location))
			}
			seen[en.Location] = true
		}
	}
	return errors.Join(errs...)
}
