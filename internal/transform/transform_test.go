package transform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upcheck/internal/memo"
	"upcheck/internal/metrics"
	"upcheck/internal/trace"
)

// countingStep wraps fn and counts how often it is applied.
func countingStep(name string, calls *int, fn func([]byte) []byte) FuncStep {
	return FuncStep{
		StepName: name,
		ID:       name,
		Fn: func(_ context.Context, in []byte) ([]byte, error) {
			*calls++
			return fn(in), nil
		},
	}
}

func TestPipeline_CachedPipelineRunsNothing(t *testing.T) {
	var upperCalls, reverseCalls int
	p := &Pipeline{
		Runner: memo.NewRunner(memo.NewMemoryCache()),
		Steps: []Step{
			countingStep("upper", &upperCalls, bytes.ToUpper),
			countingStep("reverse", &reverseCalls, func(b []byte) []byte {
				out := bytes.Clone(b)
				for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
					out[i], out[j] = out[j], out[i]
				}
				return out
			}),
		},
	}
	ctx := context.Background()

	first := p.Invocation(ctx, []byte("abc"))
	assert.False(t, first.IsKnown())
	out, err := first.Run().Get()
	require.NoError(t, err)
	assert.Equal(t, "CBA", string(out))
	assert.Equal(t, 1, upperCalls)
	assert.Equal(t, 1, reverseCalls)

	second := p.Invocation(ctx, []byte("abc"))
	require.True(t, second.IsKnown())
	res, _ := second.Peek()
	out, err = res.Get()
	require.NoError(t, err)
	assert.Equal(t, "CBA", string(out))
	assert.Equal(t, 1, upperCalls)
	assert.Equal(t, 1, reverseCalls)
	assert.True(t, p.UpToDate(ctx, []byte("abc")))
}

func TestPipeline_OnlyUncachedTailRuns(t *testing.T) {
	runner := memo.NewRunner(memo.NewMemoryCache())
	rec := trace.NewRecorder()
	runner.Trace = rec

	var aCalls, bCalls int
	a := countingStep("a", &aCalls, bytes.ToUpper)
	ctx := context.Background()

	_, err := (&Pipeline{Runner: runner, Steps: []Step{a}}).Run(ctx, []byte("x"))
	require.NoError(t, err)

	b := countingStep("b", &bCalls, func(in []byte) []byte { return append(bytes.Clone(in), '!') })
	p := &Pipeline{Runner: runner, Steps: []Step{a, b}}
	inv := p.Invocation(ctx, []byte("x"))
	assert.False(t, inv.IsKnown())

	out, err := inv.Run().Get()
	require.NoError(t, err)
	assert.Equal(t, "X!", string(out))
	assert.Equal(t, 1, aCalls, "the cached head stage is not re-run")
	assert.Equal(t, 1, bCalls)

	tr := rec.Trace("pipeline")
	var kinds []string
	for _, e := range tr.Events {
		kinds = append(kinds, e.Work+":"+string(e.Kind))
	}
	assert.Equal(t, []string{"a:StageReused", "a:StageExecuted", "b:StageExecuted"}, kinds)
}

func TestPipeline_UpToDateDoesNotRecordReuse(t *testing.T) {
	runner := memo.NewRunner(memo.NewMemoryCache())
	rec := trace.NewRecorder()
	m := metrics.New(nil)
	runner.Trace = rec
	runner.Metrics = m

	var calls int
	p := &Pipeline{Runner: runner, Steps: []Step{countingStep("a", &calls, bytes.ToUpper)}}
	ctx := context.Background()

	assert.False(t, p.UpToDate(ctx, []byte("x")))
	assert.Empty(t, rec.Events())
	_, err := p.Run(ctx, []byte("x"))
	require.NoError(t, err)
	require.Len(t, rec.Events(), 1)

	assert.True(t, p.UpToDate(ctx, []byte("x")))
	assert.True(t, p.UpToDate(ctx, []byte("x")))
	assert.Len(t, rec.Events(), 1, "status checks record nothing")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues(metrics.OutcomeCached)))

	_, err = p.Run(ctx, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvocationsTotal.WithLabelValues(metrics.OutcomeCached)))
	assert.Equal(t, 1, calls)
}

func TestPipeline_FailureStopsLaterStages(t *testing.T) {
	boom := errors.New("boom")
	var laterCalls int
	p := &Pipeline{
		Runner: memo.NewRunner(memo.NewMemoryCache()),
		Steps: []Step{
			FuncStep{StepName: "fail", ID: "fail", Fn: func(context.Context, []byte) ([]byte, error) { return nil, boom }},
			countingStep("later", &laterCalls, bytes.ToUpper),
		},
	}

	_, err := p.Run(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, boom)
	var execErr *memo.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "fail", execErr.Work)
	assert.Zero(t, laterCalls)
}

func TestPipeline_DifferentSourceMisses(t *testing.T) {
	var calls int
	p := &Pipeline{
		Runner: memo.NewRunner(memo.NewMemoryCache()),
		Steps:  []Step{countingStep("upper", &calls, bytes.ToUpper)},
	}
	ctx := context.Background()
	_, err := p.Run(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = p.Run(ctx, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPipeline_NoStepsReturnsSource(t *testing.T) {
	p := &Pipeline{Runner: memo.NewRunner(memo.NewMemoryCache())}
	inv := p.Invocation(context.Background(), []byte("src"))
	require.True(t, inv.IsKnown())
	out, err := inv.Run().Get()
	require.NoError(t, err)
	assert.Equal(t, "src", string(out))
}

func TestPipeline_RequiresRunner(t *testing.T) {
	_, err := (&Pipeline{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRunner)
}

func TestCommandStep_StdinToStdout(t *testing.T) {
	step := CommandStep{StepName: "upper", Run: "tr a-z A-Z", Env: map[string]string{"PATH": os.Getenv("PATH")}}
	out, err := step.Apply(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(out))
}

func TestCommandStep_UndeclaredEnvInvisible(t *testing.T) {
	t.Setenv("SECRET_HOST_VAR", "should_not_see_this")

	step := CommandStep{StepName: "env", Run: `echo "VAR=${SECRET_HOST_VAR:-unset} DECL=$DECLARED"`, Env: map[string]string{"DECLARED": "yes"}}
	out, err := step.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "VAR=unset DECL=yes", strings.TrimSpace(string(out)))
}

func TestCommandStep_NonZeroExit(t *testing.T) {
	step := CommandStep{StepName: "bad", Run: "echo oops >&2; exit 3"}
	_, err := step.Apply(context.Background(), nil)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Contains(t, err.Error(), "oops")
}

func TestCommandStep_Cancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	step := CommandStep{StepName: "slow", Run: "sleep 10", Env: map[string]string{"PATH": os.Getenv("PATH")}}
	start := time.Now()
	_, err := step.Apply(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCommandStep_IdentityCoversEnv(t *testing.T) {
	a := CommandStep{Run: "cc", Env: map[string]string{"B": "2", "A": "1"}}
	b := CommandStep{Run: "cc", Env: map[string]string{"A": "1", "B": "2"}}
	c := CommandStep{Run: "cc", Env: map[string]string{"A": "1", "B": "3"}}
	assert.Equal(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.Identity(), c.Identity())
	assert.Equal(t, []string{"A=1", "B=2"}, isolatedEnv(a.Env))

	here := CommandStep{Run: "cat input.txt", Dir: "/work/one"}
	there := CommandStep{Run: "cat input.txt", Dir: "/work/two"}
	assert.NotEqual(t, here.Identity(), there.Identity(), "the working directory is part of the command")
	assert.NotNil(t, isolatedEnv(nil))
}
