package core

import "errors"

// Sentinel errors shared across packages.
var (
	// ErrJobExists indicates a Create with an id the store already holds.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound indicates the job id is unknown or its record expired.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal indicates a write against a job that already reached a
	// terminal state.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// FailureCode classifies a pipeline failure so pollers can distinguish
// transient trouble from bad input.
type FailureCode string

// Failure classification.
const (
	FailDependencyUnavailable FailureCode = "dependency_unavailable"
	FailUpstreamCall          FailureCode = "upstream_call_failed"
	FailValidation            FailureCode = "validation_failed"
	FailStorageWrite          FailureCode = "storage_write_failed"
	FailTimeout               FailureCode = "timeout"
	FailUnknown               FailureCode = "unknown"
)

// Retryable reports whether a failure of this code should consume a retry
// attempt rather than terminate the job. Storage writes count as transient:
// the same network blips that make an upstream call retryable apply to the
// blob store.
func (c FailureCode) Retryable() bool {
	switch c {
	case FailDependencyUnavailable, FailUpstreamCall, FailStorageWrite:
		return true
	case FailValidation, FailTimeout, FailUnknown:
		return false
	default:
		return false
	}
}

// Failure is the structured reason recorded in the job store for every
// failed attempt, transient or terminal.
type Failure struct {
	Code   FailureCode `json:"code"`
	Reason string      `json:"reason"`
}

// NewFailure builds a Failure from a code and an error.
func NewFailure(code FailureCode, err error) *Failure {
	reason := ""
	if err != nil {
		reason = err.Error()
	}

	return &Failure{Code: code, Reason: reason}
}

// PipelineError carries a failure classification across a stage boundary.
type PipelineError struct {
	Code FailureCode
	Err  error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}

	return string(e.Code) + ": " + e.Err.Error()
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError wraps err with a failure code.
func NewPipelineError(code FailureCode, err error) *PipelineError {
	return &PipelineError{Code: code, Err: err}
}

// Classify extracts the failure code from an error produced inside a
// pipeline stage. Anything unclassified is an unexpected fault.
func Classify(err error) FailureCode {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Code
	}

	return FailUnknown
}
