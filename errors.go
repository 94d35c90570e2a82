package jobqueue

import (
	"errors"
	"fmt"
)

var (
	ErrSubmission         = errors.New("jobqueue: job submission failed")
	ErrProcessorConflict  = errors.New("jobqueue: processor already added for queue")
	ErrActiveJob          = errors.New("jobqueue: job already processing")
	ErrJobNotFound        = errors.New("jobqueue: job not found")
	ErrProcessingFailure  = errors.New("jobqueue: job failed")
	ErrSuppressedFailure  = errors.New("jobqueue: job failure suppressed")
	ErrStateConflict      = errors.New("jobqueue: job state changed concurrently")
	ErrQueueEmpty         = errors.New("jobqueue: queue empty")
	ErrNoProcessor        = errors.New("jobqueue: no processor attached")
	ErrTTLExceeded        = errors.New("jobqueue: job ttl exceeded")
	ErrInvalidConcurrency = errors.New("jobqueue: concurrency must be greater than 0")
)

// ProcessingError is returned by the manual processing paths when the
// processor raised and the job ended failed.
type ProcessingError struct {
	Job *JobDetail
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %d (%s) failed: %v", e.Job.ID, e.Job.Type, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessingFailure }
