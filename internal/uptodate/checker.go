// Package uptodate decides whether a unit of work can be skipped because none of
// its inputs changed since it last ran, and explains the decision.
package uptodate

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/charmbracelet/log"

	"upcheck/internal/change"
	"upcheck/internal/fingerprint"
	"upcheck/internal/history"
	"upcheck/internal/metrics"
	"upcheck/internal/trace"
)

// DefaultMaxReasons is the number of reasons reported unless configured otherwise.
const DefaultMaxReasons = 3

// NoHistoryReason is the only reason given when there is no previous execution.
const NoHistoryReason = "No history is available."

// Decision is the outcome of a check.
type Decision struct {
	UpToDate bool

	// Reasons explains an out-of-date decision, one line per reason.
	Reasons []string

	// Changes holds the file changes behind Reasons.
	Changes []change.Change

	// Truncated is set when a reason beyond the limit was found and the remaining
	// inputs were not examined. Exactly MaxReasons reasons leave it unset.
	Truncated bool
}

// Checker compares the current inputs of work with its previous execution.
type Checker struct {
	// MaxReasons bounds the reasons collected. Zero or less means unlimited.
	MaxReasons int

	// IncludeAdded reports files present only in the current inputs. Without it,
	// additions alone leave the work up to date.
	IncludeAdded bool

	Metrics *metrics.Metrics
	Trace   trace.Sink
	Logger  *log.Logger
}

// NewChecker returns a Checker with default settings.
func NewChecker() *Checker {
	return &Checker{MaxReasons: DefaultMaxReasons, IncludeAdded: true}
}

// Check decides whether work is up to date.
//
// Without a previous execution the work is out of date. Otherwise added or removed
// input properties are reported first, then file changes of every property present
// in both, in property name order. Collection stops once MaxReasons is reached.
func (c *Checker) Check(work string, previous *history.Execution, current map[string]fingerprint.Snapshot) (Decision, error) {
	if work == "" {
		return Decision{}, history.ErrWorkRequired
	}
	if previous == nil {
		c.record(trace.Event{Kind: trace.EventWorkOutOfDate, Work: work, Reason: trace.ReasonNoHistory})
		c.Metrics.ObserveDecision(false)
		c.logger().Info("out of date", "work", work, "reason", NoHistoryReason)
		return Decision{Reasons: []string{NoHistoryReason}}, nil
	}

	prev, err := previous.Snapshots()
	if err != nil {
		return Decision{}, fmt.Errorf("previous execution of %q: %w", work, err)
	}

	col := &collector{max: c.MaxReasons}
	propertiesChanged := false
	if c.propertyReasons(col, work, prev, current, &propertiesChanged) {
		for _, name := range sharedNames(prev, current) {
			sink := change.SinkFunc(func(ch change.Change) bool {
				if !col.add(ch.Message()) {
					return false
				}
				c.Metrics.ObserveChange(ch.Type.String())
				c.record(trace.Event{
					Kind:     trace.EventInputChanged,
					Work:     work,
					Property: ch.Property,
					Reason:   ch.Type.String(),
					Paths:    []string{ch.NormalizedPath},
				})
				col.changes = append(col.changes, ch)
				return true
			})
			if !change.Detect(current[name], prev[name], name, c.IncludeAdded, sink) {
				break
			}
		}
	}

	d := Decision{
		UpToDate:  len(col.reasons) == 0,
		Reasons:   col.reasons,
		Changes:   col.changes,
		Truncated: col.truncated,
	}
	c.Metrics.ObserveDecision(d.UpToDate)
	if d.UpToDate {
		c.record(trace.Event{Kind: trace.EventWorkUpToDate, Work: work})
		c.logger().Info("up to date", "work", work)
		return d, nil
	}

	reason := trace.ReasonInputChanged
	if propertiesChanged {
		reason = trace.ReasonPropertiesChanged
	}
	c.record(trace.Event{Kind: trace.EventWorkOutOfDate, Work: work, Reason: reason})
	c.logger().Info("out of date", "work", work, "reasons", len(d.Reasons), "truncated", d.Truncated)
	return d, nil
}

// propertyReasons reports properties that exist on only one side. It returns false
// if the collector refused a reason.
func (c *Checker) propertyReasons(col *collector, work string, prev, current map[string]fingerprint.Snapshot, changed *bool) bool {
	for _, name := range slices.Sorted(maps.Keys(current)) {
		if _, ok := prev[name]; ok {
			continue
		}
		*changed = true
		if !col.add(fmt.Sprintf("Input property '%s' has been added for %s.", name, work)) {
			return false
		}
	}
	for _, name := range slices.Sorted(maps.Keys(prev)) {
		if _, ok := current[name]; ok {
			continue
		}
		*changed = true
		if !col.add(fmt.Sprintf("Input property '%s' has been removed for %s.", name, work)) {
			return false
		}
	}
	return true
}

func (c *Checker) record(e trace.Event) {
	trace.SafeRecord(c.Trace, e)
}

func (c *Checker) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard)
	}
	return c.Logger
}

func sharedNames(prev, current map[string]fingerprint.Snapshot) []string {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(current)) {
		if _, ok := prev[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

type collector struct {
	max       int
	reasons   []string
	changes   []change.Change
	truncated bool
}

// add appends a reason unless max reasons are already held, in which case it
// marks the collection truncated and returns false.
func (c *collector) add(reason string) bool {
	if c.max > 0 && len(c.reasons) >= c.max {
		c.truncated = true
		return false
	}
	c.reasons = append(c.reasons, reason)
	return true
}
