package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// claimManual claims job id for a manual run, provided it is in state from
// when from is set.
func (c *Client) claimManual(ctx context.Context, id int64, from State) (*Job, error) {
	job, err := c.cfg.Store.Claim(ctx, id, "manual:"+uuid.NewString(), from)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	return job, nil
}

// processByID claims job id and runs fn on it once.
func (c *Client) processByID(ctx context.Context, id int64, fn Processor) (*JobDetail, error) {
	job, err := c.claimManual(ctx, id, "")
	if err != nil {
		return nil, err
	}
	return c.runManual(ctx, job, fn)
}

// runManual runs fn on a claimed job. The attempts limit is ignored and a
// failure is final. It returns once fn has returned, even past the job's ttl.
func (c *Client) runManual(ctx context.Context, job *Job, fn Processor) (*JobDetail, error) {
	id, owner := job.ID, job.LockedBy
	start := time.Now()
	out, finished := execute(ctx, fn, job)
	done, err := finishJob(context.WithoutCancel(ctx), c.cfg, job, out, false)
	<-finished
	if err != nil {
		return nil, fmt.Errorf("finish job %d: %w", id, err)
	}
	elapsed := time.Since(start)

	detail := done.Detail()
	if out.err == nil {
		c.cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("Job %d processed manually in %v", id, elapsed),
			WorkerID: owner,
			Queue:    job.Queue,
			JobID:    &job.ID,
			Duration: &elapsed,
		})
		return detail, nil
	}
	if done.State == StateComplete {
		c.cfg.logInfo(LogEvent{
			Message:  fmt.Sprintf("Job %d processed manually with suppressed failure in %v", id, elapsed),
			WorkerID: owner,
			Queue:    job.Queue,
			JobID:    &job.ID,
			Duration: &elapsed,
			Err:      fmt.Errorf("%w: %w", ErrSuppressedFailure, out.err),
		})
		return detail, nil
	}

	c.cfg.logError(LogEvent{
		Message:  fmt.Sprintf("Job %d failed during manual processing", id),
		WorkerID: owner,
		Queue:    job.Queue,
		JobID:    &job.ID,
		Duration: &elapsed,
		Err:      out.err,
	})
	return nil, &ProcessingError{Job: detail, Err: out.err}
}
