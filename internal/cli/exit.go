package cli

import (
	"errors"
	"fmt"
	"os"

	"upcheck/internal/config"
	"upcheck/internal/manifest"
)

const (
	ExitSuccess = 0
	// ExitChanged reports differing snapshots, out-of-date work or a failed step.
	ExitChanged           = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries the exit code a command should end with. An empty
// Message ends the process silently.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// changed ends a command with ExitChanged without printing anything more.
func changed() error {
	return &InvocationError{ExitCode: ExitChanged}
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, manifest.ErrInvalid), errors.Is(err, os.ErrNotExist):
		return ExitInvalidInvocation
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}
