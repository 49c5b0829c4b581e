package sandbox

import "errors"

var (
	ErrEmptyCommand      = errors.New("command name is empty")
	ErrCommandNotAllowed = errors.New("command not allowed")
	ErrInvalidTimeout    = errors.New("invalid timeout (must be >= 0)")
	ErrExecutionTimeout  = errors.New("execution timed out")
	ErrNonZeroExit       = errors.New("command failed")
)
