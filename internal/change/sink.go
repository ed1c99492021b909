package change

import "sync"

// Sink consumes changes as they are detected.
//
// Accept returns true to keep receiving changes and false to ask the producer to
// stop. A sink may stop on the very first change or never stop at all.
type Sink interface {
	Accept(c Change) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Change) bool

func (f SinkFunc) Accept(c Change) bool { return f(c) }

// Collector keeps every change it receives and never stops the producer.
type Collector struct {
	Changes []Change
}

func (c *Collector) Accept(ch Change) bool {
	c.Changes = append(c.Changes, ch)
	return true
}

// Limiter forwards at most Max changes to Next. It asks the producer to stop only
// when a change beyond the limit arrives, so Truncated tells "exactly Max changes"
// apart from "more than Max". It backs "showing the first N changes" reporting.
type Limiter struct {
	Max  int
	Next Sink

	delivered int
	truncated bool
}

// Limit wraps next so that at most max changes reach it.
func Limit(max int, next Sink) *Limiter {
	return &Limiter{Max: max, Next: next}
}

func (l *Limiter) Accept(c Change) bool {
	if l.delivered >= l.Max {
		l.truncated = true
		return false
	}
	l.delivered++
	if l.Next != nil {
		return l.Next.Accept(c)
	}
	return true
}

// Truncated reports whether a change was refused because the limit was reached.
func (l *Limiter) Truncated() bool { return l.truncated }

// Delivered returns how many changes were forwarded.
func (l *Limiter) Delivered() int { return l.delivered }

// Remaining returns how many more changes the limiter will forward.
func (l *Limiter) Remaining() int { return l.Max - l.delivered }

// Counter tallies changes by type. It is safe for concurrent use so one Counter
// can aggregate several detections running in parallel.
type Counter struct {
	mu     sync.Mutex
	counts map[Type]int
}

func (c *Counter) Accept(ch Change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[Type]int, 3)
	}
	c.counts[ch.Type]++
	return true
}

// Count returns the number of changes of type t seen so far.
func (c *Counter) Count(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

// Total returns the number of changes seen so far.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// Tee delivers every change to all sinks and keeps going only while all of them do.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(c Change) bool {
		keepGoing := true
		for _, s := range sinks {
			if !s.Accept(c) {
				keepGoing = false
			}
		}
		return keepGoing
	})
}
