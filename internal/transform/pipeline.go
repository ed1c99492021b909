package transform

import (
	"context"
	"errors"
	"fmt"

	"upcheck/internal/fingerprint"
	"upcheck/internal/invocation"
	"upcheck/internal/memo"
)

// ErrNoRunner is returned by a Pipeline without a memo Runner.
var ErrNoRunner = errors.New("transform: pipeline has no runner")

// stageInput is the property label under which a stage's input is fingerprinted.
const stageInput = "input"

// Pipeline derives an artifact from a source by applying Steps in order.
type Pipeline struct {
	Steps  []Step
	Runner *memo.Runner
}

// Invocation returns an invocation of the pipeline over source.
//
// Stage i consumes the output of stage i-1. When a stage is cached its output is
// known while composing, which makes the next stage's key computable right away;
// if every stage is cached the returned invocation is Known and running it
// executes nothing. Otherwise running it executes the remaining stages in order,
// each at most once, and stops at the first failure.
func (p *Pipeline) Invocation(ctx context.Context, source []byte) invocation.Invocation[[]byte] {
	if p.Runner == nil {
		return invocation.Known(invocation.Failure[[]byte](ErrNoRunner))
	}
	return p.compose(ctx, source, p.Runner.Invocation)
}

func (p *Pipeline) compose(ctx context.Context, source []byte, stageOf func(context.Context, memo.Work) invocation.Invocation[*memo.Entry]) invocation.Invocation[[]byte] {
	inv := invocation.Known(invocation.Success(source))
	for i, step := range p.Steps {
		inv = invocation.FlatMap(inv, func(in []byte) invocation.Invocation[[]byte] {
			stage := stageOf(ctx, p.work(i, step, in))
			return invocation.Map(stage, func(e *memo.Entry) []byte { return e.Output })
		})
	}
	return inv
}

// Run runs the pipeline over source and returns the final artifact.
func (p *Pipeline) Run(ctx context.Context, source []byte) ([]byte, error) {
	return p.Invocation(ctx, source).Run().Get()
}

// UpToDate reports whether the whole pipeline is cached for source, without
// running any step. Cache hits found this way are not recorded as reuses.
func (p *Pipeline) UpToDate(ctx context.Context, source []byte) bool {
	if p.Runner == nil {
		return false
	}
	r, ok := p.compose(ctx, source, p.Runner.Inspect).Peek()
	return ok && r.IsSuccess()
}

func (p *Pipeline) work(i int, step Step, in []byte) memo.Work {
	input := fingerprint.MustSnapshot(fingerprint.Located{
		Location: fmt.Sprintf("stage %d (%s)", i, step.Name()),
		Value:    fingerprint.NewValue(stageInput, fingerprint.KindRegular, p.Runner.Digest(in)),
	})
	return memo.Work{
		Name:     step.Name(),
		Identity: step.Identity(),
		Inputs:   map[string]fingerprint.Snapshot{stageInput: input},
		Execute: func(ctx context.Context) ([]byte, error) {
			return step.Apply(ctx, in)
		},
	}
}
