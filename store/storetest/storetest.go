// Package storetest holds the conformance suite every jobqueue.Store
// backend runs from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sky93/jobqueue"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) jobqueue.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s jobqueue.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"GetMissing", testGetMissing},
		{"ClaimOrder", testClaimOrder},
		{"ClaimNextEmpty", testClaimNextEmpty},
		{"ClaimNextSkipsOtherQueues", testClaimNextSkipsOtherQueues},
		{"DelayedPromotion", testDelayedPromotion},
		{"ClaimByID", testClaimByID},
		{"ClaimFromState", testClaimFromState},
		{"UpdateStateGuards", testUpdateStateGuards},
		{"RetryToDelayed", testRetryToDelayed},
		{"CountAndRange", testCountAndRange},
		{"Remove", testRemove},
		{"ConcurrentClaims", testConcurrentClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func newJob(queue string, priority int) *jobqueue.Job {
	now := time.Now()
	return &jobqueue.Job{
		Queue:     queue,
		Input:     json.RawMessage(`{"x":1}`),
		Priority:  priority,
		State:     jobqueue.StateInactive,
		Attempts:  jobqueue.Attempts{Max: 3},
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func mustCreate(t *testing.T, s jobqueue.Store, job *jobqueue.Job) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), job)
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

func testCreateAndGet(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	job := newJob("mail", 4)
	job.Options.NoFailure = true
	job.TTL = 2 * time.Second
	job.RemoveOnComplete = true
	id := mustCreate(t, s, job)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "mail", got.Queue)
	assert.JSONEq(t, `{"x":1}`, string(got.Input))
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, jobqueue.StateInactive, got.State)
	assert.Equal(t, 0, got.Attempts.Made)
	assert.Equal(t, 3, got.Attempts.Max)
	assert.Equal(t, 3, got.Attempts.Remaining())
	assert.True(t, got.Options.NoFailure)
	assert.True(t, got.RemoveOnComplete)
	assert.Equal(t, 2*time.Second, got.TTL)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)

	second := mustCreate(t, s, newJob("mail", 0))
	assert.Greater(t, second, id)
}

func testGetMissing(t *testing.T, s jobqueue.Store) {
	_, err := s.Get(context.Background(), 4242)
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func testClaimOrder(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, newJob("q", 1))
	b := mustCreate(t, s, newJob("q", 5))
	c := mustCreate(t, s, newJob("q", 1))

	var order []int64
	for range 3 {
		job, err := s.ClaimNext(ctx, "q", "w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobqueue.StateActive, job.State)
		assert.Equal(t, 1, job.Attempts.Made)
		assert.Equal(t, "w1", job.LockedBy)
		order = append(order, job.ID)
	}
	assert.Equal(t, []int64{b, a, c}, order)
}

func testClaimNextEmpty(t *testing.T, s jobqueue.Store) {
	job, err := s.ClaimNext(context.Background(), "nothing", "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testClaimNextSkipsOtherQueues(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	mustCreate(t, s, newJob("other", 10))
	mine := mustCreate(t, s, newJob("mine", 0))

	job, err := s.ClaimNext(ctx, "mine", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, mine, job.ID)

	job, err = s.ClaimNext(ctx, "mine", "w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testDelayedPromotion(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	later := newJob("d", 0)
	later.Delay = time.Hour
	later.Backoff = true
	later.RunAt = time.Now().Add(time.Hour)
	mustCreate(t, s, later)

	soon := newJob("d", 0)
	soon.Delay = 50 * time.Millisecond
	soon.RunAt = time.Now().Add(50 * time.Millisecond)
	soonID := mustCreate(t, s, soon)

	n, err := s.Count(ctx, "d", jobqueue.StateDelayed)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	job, err := s.ClaimNext(ctx, "d", "w1")
	require.NoError(t, err)
	assert.Nil(t, job, "delayed jobs are not eligible before their run time")

	time.Sleep(100 * time.Millisecond)
	job, err = s.ClaimNext(ctx, "d", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, soonID, job.ID)

	n, err = s.Count(ctx, "d", jobqueue.StateDelayed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testClaimByID(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, newJob("m", 0))

	job, err := s.Claim(ctx, id, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateActive, job.State)
	assert.Equal(t, 1, job.Attempts.Made)
	assert.Equal(t, "manual", job.LockedBy)

	_, err = s.Claim(ctx, id, "manual", "")
	assert.ErrorIs(t, err, jobqueue.ErrActiveJob)

	_, err = s.Claim(ctx, id+1000, "manual", "")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)

	// terminal jobs may be claimed again by id
	require.NoError(t, s.UpdateState(ctx, id, jobqueue.Transition{From: jobqueue.StateActive, To: jobqueue.StateFailed, Error: "boom"}))
	job, err = s.Claim(ctx, id, "manual", "")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts.Made)

	n, err := s.Count(ctx, "m", jobqueue.StateFailed)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testClaimFromState(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, newJob("f", 0))

	_, err := s.Claim(ctx, id, "w1", jobqueue.StateInactive)
	require.NoError(t, err)
	require.NoError(t, s.UpdateState(ctx, id, jobqueue.Transition{From: jobqueue.StateActive, To: jobqueue.StateComplete, Owner: "w1"}))

	// a complete job is not claimed by a caller expecting an inactive one
	_, err = s.Claim(ctx, id, "w2", jobqueue.StateInactive)
	assert.ErrorIs(t, err, jobqueue.ErrStateConflict)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateComplete, got.State)
	assert.Equal(t, 1, got.Attempts.Made)

	n, err := s.Count(ctx, "f", jobqueue.StateComplete)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = s.Count(ctx, "f", jobqueue.StateActive)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testUpdateStateGuards(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, newJob("g", 0))
	_, err := s.ClaimNext(ctx, "g", "w1")
	require.NoError(t, err)

	err = s.UpdateState(ctx, id, jobqueue.Transition{From: jobqueue.StateInactive, To: jobqueue.StateComplete})
	assert.ErrorIs(t, err, jobqueue.ErrStateConflict)

	err = s.UpdateState(ctx, id, jobqueue.Transition{From: jobqueue.StateActive, To: jobqueue.StateComplete, Owner: "w2"})
	assert.ErrorIs(t, err, jobqueue.ErrStateConflict)

	err = s.UpdateState(ctx, 999, jobqueue.Transition{To: jobqueue.StateComplete})
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)

	err = s.UpdateState(ctx, id, jobqueue.Transition{
		From:   jobqueue.StateActive,
		To:     jobqueue.StateComplete,
		Owner:  "w1",
		Result: json.RawMessage(`2`),
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateComplete, got.State)
	assert.JSONEq(t, `2`, string(got.Result))
	assert.Empty(t, got.LockedBy)

	n, err := s.Count(ctx, "g", jobqueue.StateActive)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.Count(ctx, "g", jobqueue.StateComplete)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testRetryToDelayed(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, newJob("r", 0))
	_, err := s.ClaimNext(ctx, "r", "w1")
	require.NoError(t, err)

	runAt := time.Now().Add(80 * time.Millisecond)
	require.NoError(t, s.UpdateState(ctx, id, jobqueue.Transition{
		From:  jobqueue.StateActive,
		To:    jobqueue.StateDelayed,
		Error: "try again",
		RunAt: runAt,
	}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StateDelayed, got.State)
	assert.Equal(t, "try again", got.Error)

	job, err := s.ClaimNext(ctx, "r", "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	time.Sleep(120 * time.Millisecond)
	job, err = s.ClaimNext(ctx, "r", "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts.Made)
}

func testCountAndRange(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	low := mustCreate(t, s, newJob("c", 0))
	high := mustCreate(t, s, newJob("c", 9))
	mid := mustCreate(t, s, newJob("c", 3))
	mustCreate(t, s, newJob("elsewhere", 0))

	n, err := s.Count(ctx, "c", jobqueue.StateInactive)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ids := func(jobs []*jobqueue.Job) []int64 {
		out := make([]int64, len(jobs))
		for i, j := range jobs {
			out[i] = j.ID
		}
		return out
	}

	jobs, err := s.Range(ctx, "c", jobqueue.StateInactive, 0, 10, jobqueue.OrderAsc)
	require.NoError(t, err)
	assert.Equal(t, []int64{high, mid, low}, ids(jobs))

	jobs, err = s.Range(ctx, "c", jobqueue.StateInactive, 0, 10, jobqueue.OrderDesc)
	require.NoError(t, err)
	assert.Equal(t, []int64{low, mid, high}, ids(jobs))

	jobs, err = s.Range(ctx, "c", jobqueue.StateInactive, 1, 1, jobqueue.OrderAsc)
	require.NoError(t, err)
	assert.Equal(t, []int64{mid}, ids(jobs))

	jobs, err = s.Range(ctx, "c", jobqueue.StateComplete, 0, 10, jobqueue.OrderAsc)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func testRemove(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, newJob("x", 0))

	require.NoError(t, s.Remove(ctx, id))
	_, err := s.Get(ctx, id)
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
	assert.ErrorIs(t, s.Remove(ctx, id), jobqueue.ErrJobNotFound)

	n, err := s.Count(ctx, "x", jobqueue.StateInactive)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testConcurrentClaims(t *testing.T, s jobqueue.Store) {
	ctx := context.Background()
	const jobs = 20
	for range jobs {
		mustCreate(t, s, newJob("race", 0))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(ctx, "race", "w"+string(rune('a'+w)))
				if err != nil {
					continue
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d claimed more than once", id)
	}
}
