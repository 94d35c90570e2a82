// Package redis provides a Redis backed jobqueue.Store. Claims and state
// transitions run as Lua scripts so they are atomic across every process
// sharing the server, and new jobs are announced over pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sky93/jobqueue"
)

var (
	_ jobqueue.Store    = (*Store)(nil)
	_ jobqueue.Notifier = (*Store)(nil)
)

// Config holds the connection settings.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store keeps jobs as hashes indexed by per-state sorted sets.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Open connects to Redis and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is empty")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client. An empty prefix means "jq:".
func New(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Store) Create(ctx context.Context, job *jobqueue.Job) (int64, error) {
	now := s.now()
	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}
	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = created
	}
	state := jobqueue.StateInactive
	if runAt.After(now) {
		state = jobqueue.StateDelayed
	}

	id, err := s.client.Incr(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: allocate job id: %w", err)
	}
	m := member(id)

	fields := map[string]any{
		"id":                 id,
		"queue":              job.Queue,
		"payload":            string(job.Input),
		"no_failure":         boolField(job.Options.NoFailure),
		"priority":           job.Priority,
		"state":              string(state),
		"attempts_made":      0,
		"attempts_max":       job.Attempts.Max,
		"delay_us":           job.Delay.Microseconds(),
		"backoff":            boolField(job.Backoff),
		"ttl_us":             job.TTL.Microseconds(),
		"remove_on_complete": boolField(job.RemoveOnComplete),
		"error":              "",
		"locked_by":          "",
		"run_at":             runAt.UnixMicro(),
		"created_at":         created.UnixMicro(),
		"updated_at":         created.UnixMicro(),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(id), fields)
	pipe.ZAdd(ctx, s.stateKey(job.Queue, state), goredis.Z{Score: float64(-job.Priority), Member: m})
	if state == jobqueue.StateDelayed {
		pipe.ZAdd(ctx, s.scheduleKey(job.Queue), goredis.Z{Score: float64(runAt.UnixMicro()), Member: m})
	} else {
		pipe.Publish(ctx, s.channel(job.Queue), "1")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: create job: %w", err)
	}
	return id, nil
}

func (s *Store) ClaimNext(ctx context.Context, queue, owner string) (*jobqueue.Job, error) {
	keys := []string{
		s.stateKey(queue, jobqueue.StateInactive),
		s.stateKey(queue, jobqueue.StateActive),
		s.scheduleKey(queue),
		s.stateKey(queue, jobqueue.StateDelayed),
	}
	m, err := claimNextScript.Run(ctx, s.client, keys, s.now().UnixMicro(), owner, s.jobPrefix()).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: claim next: %w", err)
	}
	return s.getByKey(ctx, s.jobPrefix()+m)
}

func (s *Store) Claim(ctx context.Context, id int64, owner string, from jobqueue.State) (*jobqueue.Job, error) {
	res, err := claimScript.Run(ctx, s.client, []string{s.jobKey(id)},
		s.now().UnixMicro(), owner, s.queuePrefix(), member(id), string(from)).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis: claim job %d: %w", id, err)
	}
	switch res {
	case -1:
		return nil, jobqueue.ErrJobNotFound
	case -2:
		return nil, jobqueue.ErrActiveJob
	case -3:
		return nil, jobqueue.ErrStateConflict
	}
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id int64) (*jobqueue.Job, error) {
	return s.getByKey(ctx, s.jobKey(id))
}

func (s *Store) getByKey(ctx context.Context, key string) (*jobqueue.Job, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, jobqueue.ErrJobNotFound
	}
	return parseJob(fields)
}

func (s *Store) UpdateState(ctx context.Context, id int64, t jobqueue.Transition) error {
	hasResult := "0"
	if t.Result != nil {
		hasResult = "1"
	}
	var runAt int64
	if t.To == jobqueue.StateDelayed {
		runAt = t.RunAt.UnixMicro()
	}
	res, err := transitionScript.Run(ctx, s.client, []string{s.jobKey(id)},
		string(t.From), string(t.To), t.Owner, hasResult, string(t.Result), t.Error,
		runAt, s.now().UnixMicro(), s.queuePrefix(), member(id),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: update job %d: %w", id, err)
	}
	switch res {
	case -1:
		return jobqueue.ErrJobNotFound
	case -2:
		return jobqueue.ErrStateConflict
	}
	return nil
}

func (s *Store) Count(ctx context.Context, queue string, state jobqueue.State) (int64, error) {
	n, err := s.client.ZCard(ctx, s.stateKey(queue, state)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %s jobs: %w", state, err)
	}
	return n, nil
}

func (s *Store) Range(ctx context.Context, queue string, state jobqueue.State, offset, limit int, order jobqueue.Order) ([]*jobqueue.Job, error) {
	if offset < 0 {
		offset = 0
	}
	start, stop := int64(offset), int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	key := s.stateKey(queue, state)
	var members []string
	var err error
	if order == jobqueue.OrderDesc {
		members, err = s.client.ZRevRange(ctx, key, start, stop).Result()
	} else {
		members, err = s.client.ZRange(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: range %s jobs: %w", state, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.HGetAll(ctx, s.jobPrefix()+m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: range %s jobs: %w", state, err)
	}

	jobs := make([]*jobqueue.Job, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed concurrently
		}
		job, err := parseJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := removeScript.Run(ctx, s.client, []string{s.jobKey(id)}, s.queuePrefix(), member(id)).Int64()
	if err != nil {
		return fmt.Errorf("redis: remove job %d: %w", id, err)
	}
	if res == -1 {
		return jobqueue.ErrJobNotFound
	}
	return nil
}

// Subscribe forwards new-job announcements of queue until ctx is done.
func (s *Store) Subscribe(ctx context.Context, queue string) (<-chan struct{}, error) {
	ps := s.client.Subscribe(ctx, s.channel(queue))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", queue, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func parseJob(f map[string]string) (*jobqueue.Job, error) {
	var err error
	num := func(key string) int64 {
		if err != nil {
			return 0
		}
		v, perr := strconv.ParseInt(f[key], 10, 64)
		if perr != nil {
			err = fmt.Errorf("redis: field %s: %w", key, perr)
		}
		return v
	}

	job := &jobqueue.Job{
		ID:               num("id"),
		Queue:            f["queue"],
		Input:            []byte(f["payload"]),
		Options:          jobqueue.Options{NoFailure: f["no_failure"] == "1"},
		Priority:         int(num("priority")),
		State:            jobqueue.State(f["state"]),
		Attempts:         jobqueue.Attempts{Made: int(num("attempts_made")), Max: int(num("attempts_max"))},
		Delay:            time.Duration(num("delay_us")) * time.Microsecond,
		Backoff:          f["backoff"] == "1",
		TTL:              time.Duration(num("ttl_us")) * time.Microsecond,
		RemoveOnComplete: f["remove_on_complete"] == "1",
		Error:            f["error"],
		LockedBy:         f["locked_by"],
		RunAt:            time.UnixMicro(num("run_at")),
		CreatedAt:        time.UnixMicro(num("created_at")),
		UpdatedAt:        time.UnixMicro(num("updated_at")),
	}
	if out, ok := f["output"]; ok {
		job.Result = []byte(out)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}
