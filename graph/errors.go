package graph

import "errors"

// ErrContractViolation marks a broken internal invariant: popping an empty
// plan, an unknown routing value, a missing field a node requires. These are
// programmer errors and surface as the error return of Run and Resume.
var ErrContractViolation = errors.New("contract violation")

// ErrMaxStepsExceeded indicates that a single call reached the maximum
// allowed step count without finishing or pausing.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNoCheckpoint is returned by Resume when the session has never run.
var ErrNoCheckpoint = errors.New("no checkpoint for session")

// ErrNotPaused is returned by Resume when the session is not parked at an
// interrupt point.
var ErrNotPaused = errors.New("session is not paused")

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsContractViolation reports whether err is, or wraps, a contract violation.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
