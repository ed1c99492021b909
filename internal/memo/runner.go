package memo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"upcheck/internal/fingerprint"
	"upcheck/internal/invocation"
	"upcheck/internal/metrics"
	"upcheck/internal/trace"
)

var (
	// ErrNoExecute is the failure of a Work without an Execute function.
	ErrNoExecute = errors.New("memo: work has no Execute function")

	// ErrNoName is the failure of a Work without a Name.
	ErrNoName = errors.New("memo: work name is required")
)

// keyDomain separates work keys from any other digest built with the same hasher.
const keyDomain = "upcheck/memo/v1"

// Work is a unit of work whose output depends only on its identity and inputs.
type Work struct {
	// Name labels the work in logs and traces. It does not contribute to the key.
	Name string

	// Identity captures everything besides the inputs that determines the output,
	// for example a command line and its environment.
	Identity string

	// Inputs maps a property label to the file set the work reads.
	Inputs map[string]fingerprint.Snapshot

	// Execute performs the work. It is called at most once per Run of the
	// invocation, and not at all when the result is cached.
	Execute func(ctx context.Context) ([]byte, error)
}

// ExecutionError reports that a unit of work ran and failed.
type ExecutionError struct {
	Work string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("work %q failed: %v", e.Work, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Runner builds memoized invocations over a Cache.
//
// Concurrent runs of invocations with the same key share a single execution.
type Runner struct {
	// Cache stores work results. Required.
	Cache Cache

	// Algorithm builds work keys. Empty means SHA256.
	Algorithm fingerprint.Algorithm

	// Logger is optional.
	Logger *log.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Trace receives StageReused, StageExecuted and StageFailed events. Optional.
	Trace trace.Sink

	flight singleflight.Group
}

// NewRunner returns a Runner over cache with default settings.
func NewRunner(cache Cache) *Runner {
	return &Runner{Cache: cache, Algorithm: fingerprint.SHA256}
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.New(io.Discard)
	}
	return r.Logger
}

func (r *Runner) algorithm() fingerprint.Algorithm {
	if r.Algorithm == "" {
		return fingerprint.SHA256
	}
	return r.Algorithm
}

// Digest returns the digest of content under the runner's algorithm.
func (r *Runner) Digest(content []byte) fingerprint.Digest {
	return r.algorithm().Of(content)
}

// Key returns the cache key of w: a digest over its identity and, for every input
// property in name order, the name and the combined digest of its values.
// Locations do not contribute.
func (r *Runner) Key(w Work) Key {
	h := r.algorithm().NewHasher()
	h.PutString(keyDomain)
	h.PutString(w.Identity)
	names := slices.Sorted(maps.Keys(w.Inputs))
	h.PutInt(len(names))
	for _, name := range names {
		h.PutString(name)
		h.PutSorted(w.Inputs[name].Values())
	}
	return Key(h.Sum().String())
}

// Invocation returns an invocation yielding the cache entry of w.
//
// The invocation is Known when the cache already holds the entry, or when w is
// invalid or the cache lookup fails (as a failure). Otherwise it is Deferred; each
// Run checks the cache again, then executes w and stores its output. A cache hit
// found here is recorded as a reuse.
func (r *Runner) Invocation(ctx context.Context, w Work) invocation.Invocation[*Entry] {
	return r.invocation(ctx, w, true)
}

// Inspect is Invocation without recording cache hits found while composing. It is
// meant for Peek: asking whether work is cached must not count as reusing it.
// Running an inspected invocation records what it executes or reuses as usual.
func (r *Runner) Inspect(ctx context.Context, w Work) invocation.Invocation[*Entry] {
	return r.invocation(ctx, w, false)
}

func (r *Runner) invocation(ctx context.Context, w Work, observe bool) invocation.Invocation[*Entry] {
	switch {
	case w.Name == "":
		return invocation.Known(invocation.Failure[*Entry](ErrNoName))
	case w.Execute == nil:
		return invocation.Known(invocation.Failure[*Entry](fmt.Errorf("%w: %s", ErrNoExecute, w.Name)))
	}

	key := r.Key(w)
	entry, err := r.Cache.Get(key)
	if err != nil {
		return invocation.Known(invocation.Failure[*Entry](fmt.Errorf("looking up %s: %w", w.Name, err)))
	}
	if entry != nil {
		if observe {
			r.reused(w, key)
		}
		return invocation.Known(invocation.Success(entry))
	}

	return invocation.Shared(&r.flight, string(key), invocation.Deferred(func() invocation.Result[*Entry] {
		return r.execute(ctx, w, key)
	}))
}

// Run is a convenience for r.Invocation(ctx, w).Run().Get().
func (r *Runner) Run(ctx context.Context, w Work) (*Entry, error) {
	return r.Invocation(ctx, w).Run().Get()
}

func (r *Runner) execute(ctx context.Context, w Work, key Key) invocation.Result[*Entry] {
	// Another process may have stored the entry since the invocation was built.
	if entry, err := r.Cache.Get(key); err != nil {
		return invocation.Failure[*Entry](fmt.Errorf("looking up %s: %w", w.Name, err))
	} else if entry != nil {
		r.reused(w, key)
		return invocation.Success(entry)
	}

	if err := ctx.Err(); err != nil {
		return invocation.Failure[*Entry](err)
	}

	start := time.Now()
	output, err := w.Execute(ctx)
	elapsed := time.Since(start)
	if err != nil {
		r.Metrics.ObserveInvocation(metrics.OutcomeFailed, elapsed)
		trace.SafeRecord(r.Trace, trace.Event{Kind: trace.EventStageFailed, Work: w.Name})
		r.logger().Warn("work failed", "work", w.Name, "key", shortKey(key), "err", err)
		return invocation.Failure[*Entry](&ExecutionError{Work: w.Name, Err: err})
	}

	entry := &Entry{Key: key, Work: w.Name, Output: output}
	// The first stored entry for a key wins; outputs already read by others stay put.
	stored, err := r.Cache.Has(key)
	if err != nil {
		return invocation.Failure[*Entry](fmt.Errorf("looking up %s: %w", w.Name, err))
	}
	if stored {
		r.logger().Debug("already stored", "work", w.Name, "key", shortKey(key))
	} else if err := r.Cache.Put(entry); err != nil {
		return invocation.Failure[*Entry](fmt.Errorf("storing %s: %w", w.Name, err))
	}
	r.Metrics.ObserveInvocation(metrics.OutcomeExecuted, elapsed)
	trace.SafeRecord(r.Trace, trace.Event{Kind: trace.EventStageExecuted, Work: w.Name, Reason: trace.ReasonCacheMiss})
	r.logger().Info("executed", "work", w.Name, "key", shortKey(key), "duration", elapsed)
	return invocation.Success(entry)
}

func (r *Runner) reused(w Work, key Key) {
	r.Metrics.ObserveInvocation(metrics.OutcomeCached, 0)
	trace.SafeRecord(r.Trace, trace.Event{Kind: trace.EventStageReused, Work: w.Name, Reason: trace.ReasonCacheHit})
	r.logger().Debug("reused", "work", w.Name, "key", shortKey(key))
}

func shortKey(k Key) string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}
