package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/crucible/internal/environment"
)

// Halt kinds. Match them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrBoot          = errors.New("boot failure")
	ErrMachineState  = errors.New("machine not running")
	ErrCommand       = errors.New("command failed")
	ErrProvision     = errors.New("provision failed")
)

// HaltError stops a run. Nothing in this layer retries it.
type HaltError struct {
	Kind    error
	Result  Result
	Message string
	Cause   error

	// Machine and MachineState are set for state and command halts.
	Machine      string
	MachineState environment.MachineState
	// ExitStatus is the remote exit code for command halts, -1 when unknown.
	ExitStatus int
}

// Halt returns a HaltError of kind with a FAILURE result.
func Halt(kind error, format string, args ...any) *HaltError {
	return &HaltError{
		Kind:       kind,
		Result:     ResultFailure,
		Message:    fmt.Sprintf(format, args...),
		ExitStatus: -1,
	}
}

// WithCause attaches the underlying error.
func (e *HaltError) WithCause(err error) *HaltError {
	e.Cause = err
	return e
}

func (e *HaltError) Error() string {
	return e.Message
}

// Is matches the halt kind.
func (e *HaltError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *HaltError) Unwrap() error {
	return e.Cause
}

// ResultOf maps an error returned by a stage to the run result.
func ResultOf(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ResultAborted
	}
	var halt *HaltError
	if errors.As(err, &halt) && halt.Result != "" {
		return halt.Result
	}
	return ResultFailure
}
