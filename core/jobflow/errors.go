package jobflow

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps every local validation failure
	ErrValidation = errors.New("validation failed")
	// ErrJobFlowRunning is returned for operations that are only valid before Run
	ErrJobFlowRunning = errors.New("job flow is already running")
	// ErrJobFlowNotStarted is returned for operations that need a running job flow
	ErrJobFlowNotStarted = errors.New("job flow has not been started")
	// ErrJobFlowTerminated is returned for operations on a job flow after Shutdown
	ErrJobFlowTerminated = errors.New("job flow has been shut down")
	// ErrNoAPI is returned when a remote operation is attempted without a client
	ErrNoAPI = errors.New("job flow has no control plane client")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
