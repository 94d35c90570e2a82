// Package memory is an in-process jobqueue.Store. Safe for concurrent
// access. Intended for tests, development and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sky93/jobqueue"
)

var (
	_ jobqueue.Store    = (*Store)(nil)
	_ jobqueue.Notifier = (*Store)(nil)
)

// Store keeps every job in a map guarded by one mutex, which makes each
// operation atomic.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	jobs   map[int64]*jobqueue.Job

	subMu sync.Mutex
	subs  map[string][]chan struct{}

	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[int64]*jobqueue.Job),
		subs: make(map[string][]chan struct{}),
		now:  time.Now,
	}
}

// Create persists a copy of job and assigns it the next id.
func (s *Store) Create(_ context.Context, job *jobqueue.Job) (int64, error) {
	s.mu.Lock()
	s.nextID++
	cp := job.Clone()
	cp.ID = s.nextID
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	if cp.RunAt.After(now) {
		cp.State = jobqueue.StateDelayed
	} else {
		cp.State = jobqueue.StateInactive
	}
	s.jobs[cp.ID] = cp
	id, queue, state := cp.ID, cp.Queue, cp.State
	s.mu.Unlock()

	if state == jobqueue.StateInactive {
		s.publish(queue)
	}
	return id, nil
}

// before reports whether a is served before b.
func before(a, b *jobqueue.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// ClaimNext promotes elapsed delayed jobs and claims the best inactive one.
func (s *Store) ClaimNext(_ context.Context, queue, owner string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *jobqueue.Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.State == jobqueue.StateDelayed && !j.RunAt.After(now) {
			j.State = jobqueue.StateInactive
			j.UpdatedAt = now
		}
		if j.State != jobqueue.StateInactive {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	s.activate(best, owner, now)
	return best.Clone(), nil
}

func (s *Store) activate(j *jobqueue.Job, owner string, now time.Time) {
	j.State = jobqueue.StateActive
	j.Attempts.Made++
	j.LockedBy = owner
	j.UpdatedAt = now
}

// Claim moves job id to active, provided it is in state from when set.
func (s *Store) Claim(_ context.Context, id int64, owner string, from jobqueue.State) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	if j.State == jobqueue.StateActive {
		return nil, jobqueue.ErrActiveJob
	}
	if from != "" && j.State != from {
		return nil, jobqueue.ErrStateConflict
	}
	s.activate(j, owner, s.now())
	return j.Clone(), nil
}

func (s *Store) Get(_ context.Context, id int64) (*jobqueue.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) UpdateState(_ context.Context, id int64, t jobqueue.Transition) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return jobqueue.ErrJobNotFound
	}
	if (t.From != "" && j.State != t.From) || (t.Owner != "" && j.LockedBy != t.Owner) {
		s.mu.Unlock()
		return jobqueue.ErrStateConflict
	}

	j.State = t.To
	if t.Result != nil {
		j.Result = append([]byte(nil), t.Result...)
	}
	if t.Error != "" {
		j.Error = t.Error
	}
	if t.To != jobqueue.StateActive {
		j.LockedBy = ""
	}
	if t.To == jobqueue.StateDelayed {
		j.RunAt = t.RunAt
	}
	j.UpdatedAt = s.now()
	queue, state := j.Queue, j.State
	s.mu.Unlock()

	if state == jobqueue.StateInactive {
		s.publish(queue)
	}
	return nil
}

func (s *Store) Count(_ context.Context, queue string, state jobqueue.State) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == state {
			n++
		}
	}
	return n, nil
}

func (s *Store) Range(_ context.Context, queue string, state jobqueue.State, offset, limit int, order jobqueue.Order) ([]*jobqueue.Job, error) {
	s.mu.RLock()
	matched := make([]*jobqueue.Job, 0)
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == state {
			matched = append(matched, j.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if order == jobqueue.OrderDesc {
			return before(matched[b], matched[a])
		}
		return before(matched[a], matched[b])
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return jobqueue.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Subscribe returns a channel signalled whenever a job of queue becomes
// inactive. The channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context, queue string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs[queue] = append(s.subs[queue], ch)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subs[queue]
		for i, c := range subs {
			if c == ch {
				s.subs[queue] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *Store) publish(queue string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[queue] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Backdate shifts the created and updated timestamps of job id into the
// past. Used to simulate stale jobs.
func (s *Store) Backdate(id int64, by time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return jobqueue.ErrJobNotFound
	}
	j.CreatedAt = j.CreatedAt.Add(-by)
	j.UpdatedAt = j.UpdatedAt.Add(-by)
	return nil
}

func (s *Store) Close() error { return nil }
