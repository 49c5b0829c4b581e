package operator

import "errors"

var (
	// ErrActionFailed marks a backend call that failed. The run continues
	// and the model sees an error result.
	ErrActionFailed = errors.New("operator action failed")

	// ErrRemoteUnavailable is returned once the remote retry policy is
	// exhausted. It ends the run.
	ErrRemoteUnavailable error = &fatalError{msg: "remote operator unavailable"}

	ErrInvalidBox = errors.New("invalid bounding box")
)

type fatalError struct {
	msg string
}

func (e *fatalError) Error() string { return e.msg }

// Fatal lets callers that do not import this package recognize errors
// that must end the run.
func (e *fatalError) Fatal() bool { return true }
