package scheduler

import "github.com/atlascrawl/atlas/pkg/failure"

type SchedulerErrorCause int

const (
	ErrCauseInvalidState SchedulerErrorCause = iota
	ErrCauseWriterPoisoned
	ErrCauseFinalizeFailed
)

// SchedulerError is the package-local classified error for lifecycle
// failures: illegal state transitions, a poisoned dataset writer, or a
// finalize that could not complete.
type SchedulerError struct {
	Message   string
	Cause     SchedulerErrorCause
	Retryable bool
}

func (e *SchedulerError) Error() string {
	return e.Message
}

func (e *SchedulerError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *SchedulerError) IsRetryable() bool {
	return e.Retryable
}
