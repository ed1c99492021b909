package change

import (
	"iter"
	"slices"

	"upcheck/internal/fingerprint"
)

// Detect reports the differences between previous and current to sink.
//
// Entries are matched by value: each current entry consumes at most one previous
// entry with an equal Value, regardless of location. Previous entries left over are
// reported in canonical value order; each one is a modification if an unmatched
// current entry shares its normalized path and a removal otherwise. When
// includeAdded is set, unmatched current entries left after that are reported as
// additions, grouped by normalized path in first-seen order.
//
// Detect returns false as soon as the sink declines a change, and true if the sink
// received every change.
func Detect(current, previous fingerprint.Snapshot, property string, includeAdded bool, sink Sink) bool {
	unmatched := make(map[fingerprint.Value][]string, previous.Len())
	for loc, v := range previous.All() {
		unmatched[v] = append(unmatched[v], loc)
	}

	var added pathIndex
	for loc, v := range current.All() {
		if locs := unmatched[v]; len(locs) > 0 {
			unmatched[v] = locs[1:]
			continue
		}
		added.push(fingerprint.Located{Location: loc, Value: v})
	}

	// Consumption pops from the front, so what is left for a value is a suffix of
	// its previous locations. Walking previous in order recovers those entries in
	// insertion order before the stable sort.
	var missing []fingerprint.Located
	for loc, v := range previous.All() {
		if locs := unmatched[v]; len(locs) > 0 && locs[0] == loc {
			unmatched[v] = locs[1:]
			missing = append(missing, fingerprint.Located{Location: loc, Value: v})
		}
	}
	slices.SortStableFunc(missing, func(a, b fingerprint.Located) int {
		return fingerprint.Compare(a.Value, b.Value)
	})

	for _, prev := range missing {
		var c Change
		if cur, ok := added.pop(prev.Value.NormalizedPath); ok {
			c = NewModified(property, prev.Location, prev.Value.NormalizedPath, prev.Value.Kind, cur.Value.Kind)
		} else {
			c = NewRemoved(property, prev.Location, prev.Value.NormalizedPath, prev.Value.Kind)
		}
		if !sink.Accept(c) {
			return false
		}
	}

	if !includeAdded {
		return true
	}
	for _, path := range added.keys {
		for _, cur := range added.queues[path] {
			if !sink.Accept(NewAdded(property, cur.Location, path, cur.Value.Kind)) {
				return false
			}
		}
	}
	return true
}

// Changes returns the changes Detect would report as a lazy sequence. Breaking out
// of the range loop stops detection.
func Changes(current, previous fingerprint.Snapshot, property string, includeAdded bool) iter.Seq[Change] {
	return func(yield func(Change) bool) {
		Detect(current, previous, property, includeAdded, SinkFunc(yield))
	}
}

// pathIndex is a multimap from normalized path to located entries. Keys keep their
// first-insertion order and each key's entries form a FIFO queue.
type pathIndex struct {
	keys   []string
	queues map[string][]fingerprint.Located
}

func (p *pathIndex) push(e fingerprint.Located) {
	if p.queues == nil {
		p.queues = make(map[string][]fingerprint.Located)
	}
	path := e.Value.NormalizedPath
	if _, seen := p.queues[path]; !seen {
		p.keys = append(p.keys, path)
	}
	p.queues[path] = append(p.queues[path], e)
}

func (p *pathIndex) pop(path string) (fingerprint.Located, bool) {
	q := p.queues[path]
	if len(q) == 0 {
		return fingerprint.Located{}, false
	}
	p.queues[path] = q[1:]
	return q[0], true
}
