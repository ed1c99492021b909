package trace

import "sync"

// Sink receives events.
//
// Record must be inert: it must not panic and has no error to return. Producers
// accept a nil Sink and record nothing.
type Sink interface {
	Record(event Event)
}

// SafeRecord records event on s, swallowing any panic from a misbehaving sink.
// A nil sink is allowed.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory Sink.
//
// Ordering is computed when the trace is built, so contention on the mutex never
// affects the canonical result.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events in recording order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical Trace for subject from the recorded events.
func (r *Recorder) Trace(subject string) Trace {
	tr := Trace{Subject: subject, Events: r.Events()}
	tr.Canonicalize()
	return tr
}
