// Package transform runs multi-stage pipelines that derive an artifact from a
// source through a chain of steps, skipping every stage whose result is cached.
//
// Each stage is a memoized unit of work keyed by the step identity and the digest
// of the bytes it consumes. Stages are chained with FlatMap, so when every stage is
// cached the pipeline invocation is Known and no step runs at all.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"
	"syscall"
)

// ErrEmptyCommand is returned by a CommandStep without a command.
var ErrEmptyCommand = errors.New("transform: command is empty")

// Step is one transformation of a pipeline.
type Step interface {
	// Name labels the step in logs and traces.
	Name() string

	// Identity captures everything besides the input that determines the output.
	Identity() string

	// Apply transforms input. It may have side effects and is only called when the
	// stage's result is not cached.
	Apply(ctx context.Context, input []byte) ([]byte, error)
}

// FuncStep adapts a Go function to Step.
type FuncStep struct {
	StepName string

	// ID is the step identity. Change it whenever Fn's behavior changes.
	ID string

	Fn func(ctx context.Context, input []byte) ([]byte, error)
}

func (s FuncStep) Name() string     { return s.StepName }
func (s FuncStep) Identity() string { return "func:" + s.ID }

func (s FuncStep) Apply(ctx context.Context, input []byte) ([]byte, error) {
	return s.Fn(ctx, input)
}

// ExitError reports a command that ran and exited with a non-zero code.
type ExitError struct {
	Step     string
	ExitCode int
	Stderr   []byte
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	if msg == "" {
		return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
	}
	return fmt.Sprintf("step %q exited with code %d: %s", e.Step, e.ExitCode, msg)
}

// CommandStep runs a shell command that reads the input on stdin and writes the
// output to stdout.
//
// The command sees only the variables declared in Env; nothing is inherited from
// the host, not even PATH. On cancellation the whole process group is killed.
type CommandStep struct {
	StepName string
	Run      string
	Env      map[string]string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

func (s CommandStep) Name() string { return s.StepName }

// Identity covers the command, the working directory and the declared
// environment, in key order. Files the command reads from Dir are not tracked;
// only the directory name is.
func (s CommandStep) Identity() string {
	var b strings.Builder
	b.WriteString("sh -c ")
	b.WriteString(s.Run)
	b.WriteString("\x00dir=")
	b.WriteString(s.Dir)
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		fmt.Fprintf(&b, "\x00%s=%s", k, s.Env[k])
	}
	return b.String()
}

func (s CommandStep) Apply(ctx context.Context, input []byte) ([]byte, error) {
	if s.Run == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command("sh", "-c", s.Run)
	cmd.Dir = s.Dir
	cmd.Env = isolatedEnv(s.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting step %q: %w", s.StepName, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return nil, fmt.Errorf("step %q cancelled: %w", s.StepName, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Step: s.StepName, ExitCode: exitErr.ExitCode(), Stderr: stderr.Bytes()}
		}
		return nil, fmt.Errorf("running step %q: %w", s.StepName, err)
	}
	return stdout.Bytes(), nil
}

// isolatedEnv builds the allowlisted environment in key order. It is never nil,
// because a nil Env makes exec inherit the host environment.
func isolatedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
