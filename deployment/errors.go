package deployment

import "errors"

// Sentinel errors for state machine guard violations. Callers classify
// failures with errors.Is and map them to transport-level responses.
var (
	// ErrAlreadyRunning rejects a start while a run is in flight.
	ErrAlreadyRunning = errors.New("deployment already running")

	// ErrAlreadyCompleted rejects any mutation of a terminal record.
	ErrAlreadyCompleted = errors.New("deployment already completed")

	// ErrNoActiveRun flags an outcome or run report against an idle
	// record. There is nothing to complete; this is an internal defect of
	// the caller, not a client error.
	ErrNoActiveRun = errors.New("no deployment run in progress")

	// ErrInvalidArgument flags a malformed transition request, such as a
	// success outcome without an artifact name.
	ErrInvalidArgument = errors.New("invalid argument")
)
