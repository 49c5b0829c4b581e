package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled ends a run cleanly after Stop. It is never reported as a
	// failure.
	ErrCancelled = errors.New("run cancelled")

	// ErrPlanningFailed means no usable plan was produced.
	ErrPlanningFailed = errors.New("planning failed")

	// ErrActionPhaseFailed means the model did not return a tool call.
	ErrActionPhaseFailed = errors.New("action phase failed")

	// ErrToolExecutionFailed marks a failed tool call. The dispatcher turns
	// it into an error result and the run continues.
	ErrToolExecutionFailed = errors.New("tool execution failed")

	// ErrAwarenessFailed skips one plan update. The run continues.
	ErrAwarenessFailed = errors.New("awareness failed")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRunning  = errors.New("session is running")
	ErrSessionIdle     = errors.New("session is not running")
	ErrRegistryClosed  = errors.New("session registry closed")
	ErrEmptyInput      = errors.New("input is required")
)

// PhaseError ties a failure to the loop phase it happened in. Kind is one
// of the sentinel errors above, or the fatal error that escaped a tool call.
type PhaseError struct {
	Phase Phase
	Kind  error
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Phase, e.Kind, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func phaseError(phase Phase, kind, err error) error {
	return &PhaseError{Phase: phase, Kind: kind, Err: err}
}
