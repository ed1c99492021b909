// Package trace records why work was reused or redone.
//
// A Trace is canonical: events are sorted into a total order that does not depend on
// timing or goroutine scheduling, and the JSON encoding has a fixed field order, so
// two runs that made the same decisions produce byte-identical traces and hashes.
// Traces are observational only and never influence the decisions they record.
package trace

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Trace is the canonical record of the decisions taken for one subject (a unit of
// work or a pipeline).
//
// It must not carry timestamps, error strings or anything derived from pointer
// identity or map iteration.
type Trace struct {
	Subject string
	Events  []Event
}

// EventKind discriminates Event. The string values are part of the canonical bytes.
type EventKind string

const (
	EventWorkUpToDate  EventKind = "WorkUpToDate"
	EventWorkOutOfDate EventKind = "WorkOutOfDate"
	EventInputChanged  EventKind = "InputChanged"
	EventStageReused   EventKind = "StageReused"
	EventStageExecuted EventKind = "StageExecuted"
	EventStageFailed   EventKind = "StageFailed"
)

// Reason codes used by producers in this module. The set is open; producers must
// keep the values stable.
const (
	ReasonNoHistory         = "NoHistory"
	ReasonPropertiesChanged = "PropertiesChanged"
	ReasonInputChanged      = "InputChanged"
	ReasonCacheHit          = "CacheHit"
	ReasonCacheMiss         = "CacheMiss"
)

// Event is a single logical decision.
type Event struct {
	Kind EventKind

	// Work identifies the work or stage the event refers to. Required.
	Work string

	// Property names the input file set, for InputChanged events.
	Property string

	// Reason is a stable reason code, or the change type for InputChanged.
	Reason string

	// Paths lists the normalized paths involved.
	Paths []string
}

// Validate checks the invariants of the trace.
func (t *Trace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.Subject == "" {
		return errors.New("subject is required")
	}
	var errs []error
	for i, e := range t.Events {
		if e.Kind == "" {
			errs = append(errs, fmt.Errorf("events[%d].kind is required", i))
		}
		if e.Work == "" {
			errs = append(errs, fmt.Errorf("events[%d].work is required for kind %q", i, e.Kind))
		}
		if e.Kind == EventInputChanged && e.Property == "" {
			errs = append(errs, fmt.Errorf("events[%d].property is required for kind %q", i, e.Kind))
		}
		for j, p := range e.Paths {
			if p == "" {
				errs = append(errs, fmt.Errorf("events[%d].paths[%d] is empty", i, j))
			}
		}
	}
	return errors.Join(errs...)
}

// Canonicalize sorts the trace into its canonical form.
//
// Paths are copied and sorted, empty Paths become nil, and events are stably
// sorted by (work, kind order, property, reason, paths).
func (t *Trace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Paths) == 0 {
			t.Events[i].Paths = nil
			continue
		}
		paths := slices.Clone(t.Events[i].Paths)
		slices.Sort(paths)
		t.Events[i].Paths = paths
	}

	slices.SortStableFunc(t.Events, func(a, b Event) int {
		return cmp.Or(
			cmp.Compare(a.Work, b.Work),
			cmp.Compare(kindOrder(a.Kind), kindOrder(b.Kind)),
			cmp.Compare(a.Property, b.Property),
			cmp.Compare(a.Reason, b.Reason),
			slices.Compare(a.Paths, b.Paths),
		)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventInputChanged:
		return 10
	case EventWorkOutOfDate:
		return 20
	case EventWorkUpToDate:
		return 30
	case EventStageReused:
		return 40
	case EventStageExecuted:
		return 50
	case EventStageFailed:
		return 60
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical JSON encoding of a canonicalized copy of t.
func (t Trace) CanonicalJSON() ([]byte, error) {
	c := Trace{Subject: t.Subject, Events: slices.Clone(t.Events)}
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (t Trace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// MarshalJSON writes fields in a fixed order. It does not sort; use CanonicalJSON.
func (t Trace) MarshalJSON() ([]byte, error) {
	if t.Subject == "" {
		return nil, errors.New("subject is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"subject":`)
	writeString(&buf, t.Subject)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON writes fields in a fixed order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var paths []string
	if len(e.Paths) > 0 {
		paths = slices.Clone(e.Paths)
		slices.Sort(paths)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeString(&buf, string(e.Kind))
	if e.Work != "" {
		buf.WriteString(`,"work":`)
		writeString(&buf, e.Work)
	}
	if e.Property != "" {
		buf.WriteString(`,"property":`)
		writeString(&buf, e.Property)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		writeString(&buf, e.Reason)
	}
	if len(paths) > 0 {
		buf.WriteString(`,"paths":[`)
		for i, p := range paths {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(&buf, p)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
