package engine

import "errors"

// ErrorKind classifies why a job ended in Failed, per the taxonomy in §7.
type ErrorKind string

const (
	ErrorInvalidInput      ErrorKind = "invalid_input"
	ErrorNotFound          ErrorKind = "not_found"
	ErrorNotAFile          ErrorKind = "not_a_file"
	ErrorUnsupportedFormat ErrorKind = "unsupported_format"
	ErrorPrepareFailed     ErrorKind = "prepare_failed"
	ErrorSplitFailed       ErrorKind = "split_failed"
	ErrorBackendTransient  ErrorKind = "backend_transient"
	ErrorBackendOOM        ErrorKind = "backend_oom"
	ErrorBackendFatal      ErrorKind = "backend_fatal"
	ErrorCancelled         ErrorKind = "cancelled"
	ErrorTimeout           ErrorKind = "timeout"
	ErrorInternal          ErrorKind = "internal"
)

// JobError records why a job failed, exposed on both the Job record and the
// terminal Error ProgressEvent.
type JobError struct {
	Kind    ErrorKind
	Message string
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// ErrInvalidInput is returned by Submit for validation failures; per §7 this
// never becomes a job.
var ErrInvalidInput = errors.New("invalid input")

// ErrSchedulerShutdown is returned by Submit/SubmitBatch once the scheduler
// has begun or completed shutdown.
var ErrSchedulerShutdown = errors.New("scheduler is shutting down")
