package jobqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sky93/jobqueue"
	"github.com/sky93/jobqueue/store/memory"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func newClient(t *testing.T, opts ...func(*jobqueue.Config)) (*jobqueue.Client, *memory.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := memory.New()
	cfg := jobqueue.Config{
		Store:        st,
		PollInterval: 10 * time.Millisecond,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := jobqueue.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Exit(time.Second) })
	return c, st
}

func waitState(t *testing.T, c *jobqueue.Client, id int64, state jobqueue.State) *jobqueue.JobDetail {
	t.Helper()
	var detail *jobqueue.JobDetail
	require.Eventually(t, func() bool {
		d, err := c.Status(context.Background(), id)
		if err != nil {
			return false
		}
		detail = d
		return d.State == state
	}, waitFor, tick, "job %d never reached %s", id, state)
	return detail
}

func double(_ context.Context, input json.RawMessage) (any, error) {
	var in struct {
		X int `json:"x"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	return in.X * 2, nil
}

func alwaysFail(context.Context, json.RawMessage) (any, error) {
	return nil, errors.New("boom")
}

func TestNewRequiresStore(t *testing.T) {
	_, err := jobqueue.New(jobqueue.Config{})
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("math")

	require.NoError(t, q.AddProcessor(double, 1))
	id, err := q.AddJob(ctx, map[string]int{"x": 1}, 5)
	require.NoError(t, err)

	d := waitState(t, c, id, jobqueue.StateComplete)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, "math", d.Type)
	assert.JSONEq(t, `{"x":1}`, string(d.Data.Input))
	assert.JSONEq(t, `2`, string(d.Result))
	assert.Empty(t, d.Error)
	assert.Equal(t, jobqueue.AttemptsDetail{Made: 1, Remaining: 0, Max: 1}, d.Attempts)

	require.Eventually(t, func() bool {
		return q.Metrics()["completed"] == 1
	}, waitFor, tick)
}

func TestPriorityOrder(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("ordered")

	for _, job := range []struct {
		name     string
		priority int
	}{{"A", 1}, {"B", 5}, {"C", 1}} {
		_, err := q.AddJob(ctx, map[string]string{"name": job.name}, job.priority)
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		order []string
	)
	require.NoError(t, q.AddProcessor(func(_ context.Context, input json.RawMessage) (any, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		mu.Lock()
		order = append(order, in.Name)
		mu.Unlock()
		return nil, nil
	}, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, waitFor, tick)
	assert.Equal(t, []string{"B", "A", "C"}, order)
}

func TestRetriesUntilFailed(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("flaky")
	q.SetAttempts(3)

	var (
		mu sync.Mutex
		n  int
	)
	require.NoError(t, q.AddProcessor(func(ctx context.Context, input json.RawMessage) (any, error) {
		mu.Lock()
		n++
		mu.Unlock()
		return alwaysFail(ctx, input)
	}, 2))

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)

	d := waitState(t, c, id, jobqueue.StateFailed)
	assert.Equal(t, 3, d.Attempts.Made)
	assert.Equal(t, 0, d.Attempts.Remaining)
	assert.Equal(t, "boom", d.Error)
	assert.Nil(t, d.Result)

	mu.Lock()
	assert.EqualValues(t, 3, n)
	mu.Unlock()

	require.Eventually(t, func() bool {
		m := q.Metrics()
		return m["retried"] == 2 && m["failed"] == 1
	}, waitFor, tick)
}

func TestNoFailure(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("lenient")
	q.SetNoFailure(true)
	q.SetAttempts(3)
	require.NoError(t, q.AddProcessor(alwaysFail, 1))

	id, err := q.AddJob(ctx, "payload", 0)
	require.NoError(t, err)

	d := waitState(t, c, id, jobqueue.StateComplete)
	assert.Equal(t, "boom", d.Error)
	assert.Nil(t, d.Result)
	assert.Equal(t, 1, d.Attempts.Made)
	assert.True(t, d.Data.Options.NoFailure)
	require.Eventually(t, func() bool {
		return q.Metrics()["suppressed"] == 1
	}, waitFor, tick)
}

func TestDelayedRetry(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("later")
	q.SetDelay(30 * time.Millisecond)
	q.SetAttempts(2)

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	n, err := q.DelayedJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var mu sync.Mutex
	calls := 0
	require.NoError(t, q.AddProcessor(func(context.Context, json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	}, 1))

	d := waitState(t, c, id, jobqueue.StateComplete)
	assert.Equal(t, 2, d.Attempts.Made)
	assert.JSONEq(t, `"ok"`, string(d.Result))
	assert.Equal(t, "not yet", d.Error)
}

func TestTTLExceeded(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("slow")
	q.SetTTL(30 * time.Millisecond)
	require.NoError(t, q.AddProcessor(func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 1))

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)

	d := waitState(t, c, id, jobqueue.StateFailed)
	assert.Contains(t, d.Error, "ttl exceeded")
}

func TestRemoveOnComplete(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("ephemeral")
	q.SetRemoveOnCompletion(true)
	require.NoError(t, q.AddProcessor(double, 1))

	id, err := q.AddJob(ctx, map[string]int{"x": 3}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.Status(ctx, id)
		return errors.Is(err, jobqueue.ErrJobNotFound)
	}, waitFor, tick)

	n, err := q.CompletedJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessorConflict(t *testing.T) {
	c, _ := newClient(t)
	require.NoError(t, c.Queue("single").AddProcessor(double, 1))

	err := c.Queue("single").AddProcessor(double, 2)
	assert.ErrorIs(t, err, jobqueue.ErrProcessorConflict)
	assert.True(t, c.Registry().HasProcessor("single"))
	assert.False(t, c.Registry().HasProcessor("other"))
}

func TestAddProcessorInvalidConcurrency(t *testing.T) {
	c, _ := newClient(t)
	q := c.Queue("zero")
	assert.ErrorIs(t, q.AddProcessor(double, 0), jobqueue.ErrInvalidConcurrency)
	assert.False(t, c.Registry().HasProcessor("zero"))
}

func TestSettersAreNotRetroactive(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("defaults")

	first, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	q.SetAttempts(4)
	second, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)

	d, err := c.Status(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempts.Max)
	d, err = c.Status(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Attempts.Max)
	assert.Equal(t, 4, d.Attempts.Remaining)
}

func TestAddJobSubmissionError(t *testing.T) {
	c, _ := newClient(t)
	q := c.Queue("bad")

	_, err := q.AddJob(context.Background(), make(chan int), 0)
	assert.ErrorIs(t, err, jobqueue.ErrSubmission)

	_, err = q.AddJob(context.Background(), json.RawMessage(`{broken`), 0)
	assert.ErrorIs(t, err, jobqueue.ErrSubmission)

	n, err := q.InactiveJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusNotFound(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Status(context.Background(), 77)
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestCounts(t *testing.T) {
	c, st := newClient(t)
	ctx := context.Background()
	q := c.Queue("counted")

	a, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = st.Claim(ctx, a, "someone", "")
	require.NoError(t, err)

	inactive, err := q.InactiveJobs(ctx)
	require.NoError(t, err)
	pending, err := q.PendingJobs(ctx)
	require.NoError(t, err)
	active, err := q.ActiveJobs(ctx)
	require.NoError(t, err)
	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 1, inactive)
	assert.Equal(t, inactive, pending)
	assert.EqualValues(t, 1, active)
	assert.Zero(t, failed)
}

func TestProcessJob(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("manual")

	_, err := q.ProcessJob(ctx, double)
	assert.ErrorIs(t, err, jobqueue.ErrQueueEmpty)

	low, err := q.AddJob(ctx, map[string]int{"x": 1}, 0)
	require.NoError(t, err)
	high, err := q.AddJob(ctx, map[string]int{"x": 10}, 3)
	require.NoError(t, err)

	d, err := q.ProcessJob(ctx, double)
	require.NoError(t, err)
	assert.Equal(t, high, d.ID)
	assert.Equal(t, jobqueue.StateComplete, d.State)
	assert.JSONEq(t, `20`, string(d.Result))
	assert.Equal(t, 1, d.Attempts.Made)
	assert.Equal(t, 0, d.Attempts.Remaining)

	d, err = q.ProcessJob(ctx, double)
	require.NoError(t, err)
	assert.Equal(t, low, d.ID)

	_, err = q.ProcessJob(ctx, double)
	assert.ErrorIs(t, err, jobqueue.ErrQueueEmpty)
}

func TestProcessJobFailureIsFinal(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("manual-fail")
	q.SetAttempts(3)

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)

	_, err = q.ProcessJob(ctx, alwaysFail)
	require.ErrorIs(t, err, jobqueue.ErrProcessingFailure)

	var perr *jobqueue.ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, id, perr.Job.ID)
	assert.Equal(t, jobqueue.StateFailed, perr.Job.State)
	assert.Equal(t, "boom", perr.Job.Error)

	d, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateFailed, d.State)
	assert.Equal(t, 1, d.Attempts.Made)
}

func TestProcessJobSuppressedFailure(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("manual-lenient")
	q.SetNoFailure(true)

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)

	d, err := c.ProcessJobByID(ctx, id, alwaysFail)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateComplete, d.State)
	assert.Equal(t, "boom", d.Error)
	assert.Nil(t, d.Result)
}

func TestProcessJobByID(t *testing.T) {
	c, st := newClient(t)
	ctx := context.Background()
	q := c.Queue("by-id")

	_, err := c.ProcessJobByID(ctx, 12345, double)
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)

	id, err := q.AddJob(ctx, map[string]int{"x": 4}, 0)
	require.NoError(t, err)
	d, err := c.ProcessJobByID(ctx, id, double)
	require.NoError(t, err)
	assert.JSONEq(t, `8`, string(d.Result))

	// terminal jobs can be run again and count another attempt
	d, err = c.ProcessJobByID(ctx, id, double)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Attempts.Made)
	assert.Equal(t, 0, d.Attempts.Remaining)

	busy, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = st.Claim(ctx, busy, "elsewhere", "")
	require.NoError(t, err)
	_, err = c.ProcessJobByID(ctx, busy, double)
	assert.ErrorIs(t, err, jobqueue.ErrActiveJob)
}

func blockingProcessor() (jobqueue.Processor, chan struct{}, chan struct{}) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	fn := func(context.Context, json.RawMessage) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}
	return fn, started, release
}

func TestPauseResume(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("pausable")
	fn, started, release := blockingProcessor()
	require.NoError(t, q.AddProcessor(fn, 1))

	first, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("job never started")
	}

	drained := make(chan bool, 1)
	go func() {
		ok, _ := q.PauseProcessor(waitFor)
		drained <- ok
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)
	assert.True(t, <-drained)
	waitState(t, c, first, jobqueue.StateComplete)

	second, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	d, err := c.Status(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateInactive, d.State, "paused processor must not claim")

	q.ResumeProcessor()
	waitState(t, c, second, jobqueue.StateComplete)
}

func TestPauseTimeout(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("stubborn")
	fn, started, release := blockingProcessor()
	require.NoError(t, q.AddProcessor(fn, 1))

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	<-started

	ok, err := q.PauseProcessor(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	close(release)
	waitState(t, c, id, jobqueue.StateComplete)
	q.ResumeProcessor()
}

func TestTTLKeepsSlotUntilCallbackReturns(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	q := c.Queue("overrun")
	q.SetTTL(30 * time.Millisecond)

	var mu sync.Mutex
	running, peak := 0, 0
	release := make(chan struct{})
	require.NoError(t, q.AddProcessor(func(context.Context, json.RawMessage) (any, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}, 1))

	var ids []int64
	for range 3 {
		id, err := q.AddJob(ctx, nil, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	d := waitState(t, c, ids[0], jobqueue.StateFailed)
	assert.Contains(t, d.Error, "ttl exceeded")

	// the expired callback still holds the only slot
	time.Sleep(100 * time.Millisecond)
	d, err := c.Status(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateInactive, d.State)
	workers := q.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, jobqueue.WorkerBusy, workers[0].Status)
	assert.Equal(t, ids[0], workers[0].JobID)

	ok, err := q.PauseProcessor(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "pause must wait for the running callback")

	close(release)
	q.ResumeProcessor()
	waitState(t, c, ids[1], jobqueue.StateComplete)
	waitState(t, c, ids[2], jobqueue.StateComplete)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak)
}

func TestWorkers(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	assert.Nil(t, c.Queue("unattached").Workers())

	q := c.Queue("observed")
	fn, started, release := blockingProcessor()
	require.NoError(t, q.AddProcessor(fn, 2))

	workers := q.Workers()
	require.Len(t, workers, 2)
	for _, w := range workers {
		assert.NotEmpty(t, w.ID)
		assert.Equal(t, jobqueue.WorkerIdle, w.Status)
		assert.Zero(t, w.JobID)
	}

	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	<-started

	var busy []jobqueue.WorkerInfo
	for _, w := range q.Workers() {
		if w.Status == jobqueue.WorkerBusy {
			busy = append(busy, w)
		}
	}
	require.Len(t, busy, 1)
	assert.Equal(t, id, busy[0].JobID)

	close(release)
	waitState(t, c, id, jobqueue.StateComplete)
	require.Eventually(t, func() bool {
		for _, w := range q.Workers() {
			if w.Status != jobqueue.WorkerIdle || w.JobID != 0 {
				return false
			}
		}
		return true
	}, waitFor, tick)

	out, err := json.Marshal(jobqueue.WorkerInfo{ID: "w", Status: jobqueue.WorkerExecFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w","status":"exec_failed"}`, string(out))
}

// staleRange serves one outdated inactive listing, as if a processing loop
// resolved the job between the listing and the claim.
type staleRange struct {
	*memory.Store
	stale []*jobqueue.Job
}

func (s *staleRange) Range(ctx context.Context, queue string, state jobqueue.State, offset, limit int, order jobqueue.Order) ([]*jobqueue.Job, error) {
	if state == jobqueue.StateInactive && s.stale != nil {
		jobs := s.stale
		s.stale = nil
		return jobs, nil
	}
	return s.Store.Range(ctx, queue, state, offset, limit, order)
}

func TestProcessJobSkipsResolvedJob(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := &staleRange{Store: memory.New()}
	c, err := jobqueue.New(jobqueue.Config{Store: st, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { c.Exit(time.Second) })
	ctx := context.Background()
	q := c.Queue("contended")

	done, err := q.AddJob(ctx, map[string]int{"x": 1}, 5)
	require.NoError(t, err)
	next, err := q.AddJob(ctx, map[string]int{"x": 2}, 0)
	require.NoError(t, err)
	snapshot, err := st.Get(ctx, done)
	require.NoError(t, err)
	_, err = c.ProcessJobByID(ctx, done, double)
	require.NoError(t, err)
	st.stale = []*jobqueue.Job{snapshot}

	var calls int
	d, err := q.ProcessJob(ctx, func(ctx context.Context, input json.RawMessage) (any, error) {
		calls++
		return double(ctx, input)
	})
	require.NoError(t, err)
	assert.Equal(t, next, d.ID)
	assert.Equal(t, 1, calls)

	d, err = c.Status(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateComplete, d.State)
	assert.Equal(t, 1, d.Attempts.Made)
	assert.JSONEq(t, `2`, string(d.Result))
}

func TestPauseWithoutProcessor(t *testing.T) {
	c, _ := newClient(t)
	ok, err := c.Queue("idle").PauseProcessor(time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, jobqueue.ErrNoProcessor)
}

func TestCleanup(t *testing.T) {
	c, st := newClient(t)
	ctx := context.Background()
	q := c.Queue("crashy")

	stale, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	fresh, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = st.Claim(ctx, stale, "dead-worker", "")
	require.NoError(t, err)
	_, err = st.Claim(ctx, fresh, "live-worker", "")
	require.NoError(t, err)
	require.NoError(t, st.Backdate(stale, 10*time.Minute))

	require.NoError(t, q.Cleanup(ctx, 5*time.Minute))

	d, err := c.Status(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateInactive, d.State)
	assert.Equal(t, 1, d.Attempts.Made)

	d, err = c.Status(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateActive, d.State)

	// a second sweep finds nothing left to recover
	require.NoError(t, q.Cleanup(ctx, 5*time.Minute))
	d, err = c.Status(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateInactive, d.State)
	d, err = c.Status(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateActive, d.State)
	assert.Equal(t, 1, d.Attempts.Made)
}

func TestDelete(t *testing.T) {
	c, st := newClient(t)
	ctx := context.Background()
	q := c.Queue("old")

	var old []int64
	for range 3 {
		id, err := q.AddJob(ctx, nil, 0)
		require.NoError(t, err)
		old = append(old, id)
	}
	_, err := c.ProcessJobByID(ctx, old[1], alwaysFail)
	require.ErrorIs(t, err, jobqueue.ErrProcessingFailure)
	_, err = st.Claim(ctx, old[2], "w", "")
	require.NoError(t, err)
	done, err := q.AddJob(ctx, map[string]int{"x": 1}, 0)
	require.NoError(t, err)
	_, err = c.ProcessJobByID(ctx, done, double)
	require.NoError(t, err)
	old = append(old, done)
	for _, id := range old {
		require.NoError(t, st.Backdate(id, 2*time.Hour))
	}

	recent, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	recentDone, err := q.AddJob(ctx, map[string]int{"x": 2}, 0)
	require.NoError(t, err)
	_, err = c.ProcessJobByID(ctx, recentDone, double)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, time.Hour))

	for _, id := range old {
		_, err := c.Status(ctx, id)
		assert.ErrorIs(t, err, jobqueue.ErrJobNotFound, "job %d", id)
	}
	_, err = c.Status(ctx, recent)
	assert.NoError(t, err)
	d, err := c.Status(ctx, recentDone)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateComplete, d.State)

	// deleting again is a no-op
	require.NoError(t, q.Delete(ctx, time.Hour))
	n, err := q.InactiveJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = q.CompletedJobs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWatchdog(t *testing.T) {
	c, st := newClient(t, func(cfg *jobqueue.Config) {
		cfg.WatchdogInterval = 20 * time.Millisecond
		cfg.StuckAfter = 50 * time.Millisecond
	})
	ctx := context.Background()

	stuck := c.Queue("stuck")
	id, err := stuck.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = st.Claim(ctx, id, "gone", "")
	require.NoError(t, err)

	expiring := c.Queue("expiring")
	expiring.SetTTL(10 * time.Millisecond)
	eid, err := expiring.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	_, err = st.Claim(ctx, eid, "gone", "")
	require.NoError(t, err)

	waitState(t, c, id, jobqueue.StateInactive)
	d := waitState(t, c, eid, jobqueue.StateFailed)
	assert.Contains(t, d.Error, "ttl exceeded")
}

func TestExit(t *testing.T) {
	t.Run("no processors", func(t *testing.T) {
		c, _ := newClient(t)
		assert.True(t, c.Exit(10*time.Millisecond))
	})

	t.Run("waits for in-flight job", func(t *testing.T) {
		c, _ := newClient(t)
		ctx := context.Background()
		q := c.Queue("draining")
		fn, started, release := blockingProcessor()
		require.NoError(t, q.AddProcessor(fn, 2))

		id, err := q.AddJob(ctx, nil, 0)
		require.NoError(t, err)
		<-started

		go func() {
			time.Sleep(30 * time.Millisecond)
			close(release)
		}()
		assert.True(t, c.Exit(waitFor))

		d, err := c.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, jobqueue.StateComplete, d.State)
	})
}

func TestLogCallbacks(t *testing.T) {
	var (
		mu     sync.Mutex
		infos  []jobqueue.LogEvent
		errs   []jobqueue.LogEvent
	)
	c, _ := newClient(t, func(cfg *jobqueue.Config) {
		cfg.InfoLog = func(ev jobqueue.LogEvent) {
			mu.Lock()
			infos = append(infos, ev)
			mu.Unlock()
		}
		cfg.ErrorLog = func(ev jobqueue.LogEvent) {
			mu.Lock()
			errs = append(errs, ev)
			mu.Unlock()
		}
	})
	ctx := context.Background()
	q := c.Queue("logged")
	require.NoError(t, q.AddProcessor(alwaysFail, 1))
	id, err := q.AddJob(ctx, nil, 0)
	require.NoError(t, err)
	waitState(t, c, id, jobqueue.StateFailed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range errs {
			if ev.JobID != nil && *ev.JobID == id && ev.Queue == "logged" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, infos)
}
