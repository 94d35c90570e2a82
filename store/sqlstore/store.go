// Package sqlstore implements jobqueue.Store on top of database/sql. The
// MySQL and SQLite backends share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sky93/jobqueue"
)

var _ jobqueue.Store = (*Store)(nil)

// Dialect carries the SQL that differs between engines.
type Dialect struct {
	Name string

	// Schema is executed by Migrate, in order. "%s" is replaced by the table.
	Schema []string

	// RowLock is appended to single row selects inside a claim or update
	// transaction, e.g. "FOR UPDATE".
	RowLock string

	// ClaimLock is appended to the candidate select of ClaimNext, e.g.
	// "FOR UPDATE SKIP LOCKED".
	ClaimLock string
}

// Store keeps jobs in one table. Times are stored as unix microseconds.
type Store struct {
	db      *sql.DB
	table   string
	dialect Dialect
	now     func() time.Time
}

// New returns a Store using table in db.
func New(db *sql.DB, table string, dialect Dialect) *Store {
	return &Store{
		db:      db,
		table:   table,
		dialect: dialect,
		now:     time.Now,
	}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the jobs table and its indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(stmt, s.table)); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.dialect.Name, err)
		}
	}
	return nil
}

const columns = `
	id,
	queue,
	payload,
	no_failure,
	priority,
	status,
	attempts_made,
	attempts_max,
	delay_us,
	backoff,
	ttl_us,
	remove_on_complete,
	output,
	error_output,
	locked_by,
	available_at,
	created_at,
	updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*jobqueue.Job, error) {
	var (
		rec                        jobqueue.Job
		state                      string
		payload                    []byte
		output                     sql.NullString
		delay, ttl                 int64
		availableAt, created, upd  int64
		noFailure, backoff, remove bool
	)
	err := row.Scan(
		&rec.ID,
		&rec.Queue,
		&payload,
		&noFailure,
		&rec.Priority,
		&state,
		&rec.Attempts.Made,
		&rec.Attempts.Max,
		&delay,
		&backoff,
		&ttl,
		&remove,
		&output,
		&rec.Error,
		&rec.LockedBy,
		&availableAt,
		&created,
		&upd,
	)
	if err != nil {
		return nil, err
	}
	rec.Input = payload
	rec.Options.NoFailure = noFailure
	rec.State = jobqueue.State(state)
	rec.Delay = time.Duration(delay) * time.Microsecond
	rec.Backoff = backoff
	rec.TTL = time.Duration(ttl) * time.Microsecond
	rec.RemoveOnComplete = remove
	if output.Valid {
		rec.Result = []byte(output.String)
	}
	rec.RunAt = time.UnixMicro(availableAt)
	rec.CreatedAt = time.UnixMicro(created)
	rec.UpdatedAt = time.UnixMicro(upd)
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, job *jobqueue.Job) (int64, error) {
	now := s.now()
	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}
	state := jobqueue.StateInactive
	if job.RunAt.After(now) {
		state = jobqueue.StateDelayed
	}
	runAt := job.RunAt
	if runAt.IsZero() {
		runAt = created
	}

	query := fmt.Sprintf(`INSERT INTO %s (
		queue, payload, no_failure, priority, status, attempts_made, attempts_max,
		delay_us, backoff, ttl_us, remove_on_complete, output, error_output,
		locked_by, available_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, NULL, '', '', ?, ?, ?)`, s.table)
	res, err := s.db.ExecContext(ctx, query,
		job.Queue,
		[]byte(job.Input),
		job.Options.NoFailure,
		job.Priority,
		string(state),
		job.Attempts.Max,
		job.Delay.Microseconds(),
		job.Backoff,
		job.TTL.Microseconds(),
		job.RemoveOnComplete,
		runAt.UnixMicro(),
		created.UnixMicro(),
		created.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get lastInsertId: %w", err)
	}
	return id, nil
}

// ClaimNext runs promotion, selection and activation in one transaction.
func (s *Store) ClaimNext(ctx context.Context, queue, owner string) (job *jobqueue.Job, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	promote := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ?
		WHERE queue = ? AND status = ? AND available_at <= ?`, s.table)
	if _, err = tx.ExecContext(ctx, promote,
		string(jobqueue.StateInactive), now.UnixMicro(),
		queue, string(jobqueue.StateDelayed), now.UnixMicro(),
	); err != nil {
		return nil, fmt.Errorf("promote delayed jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE queue = ? AND status = ?
		ORDER BY priority DESC, id ASC
		LIMIT 1 %s`, columns, s.table, s.dialect.ClaimLock)
	job, err = scanJob(tx.QueryRowContext(ctx, query, queue, string(jobqueue.StateInactive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tx.Commit()
		}
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	if err = s.assignJobToWorker(ctx, tx, job, owner, now); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim of job %d: %w", job.ID, err)
	}
	return job, nil
}

func (s *Store) assignJobToWorker(ctx context.Context, tx *sql.Tx, job *jobqueue.Job, owner string, now time.Time) error {
	stmt := fmt.Sprintf(`UPDATE %s
		SET
		  status = ?,
		  attempts_made = attempts_made + 1,
		  locked_by = ?,
		  updated_at = ?
		WHERE id = ?`, s.table)
	if _, err := tx.ExecContext(ctx, stmt, string(jobqueue.StateActive), owner, now.UnixMicro(), job.ID); err != nil {
		return fmt.Errorf("assign job %d: %w", job.ID, err)
	}
	job.State = jobqueue.StateActive
	job.Attempts.Made++
	job.LockedBy = owner
	job.UpdatedAt = time.UnixMicro(now.UnixMicro())
	return nil
}

func (s *Store) Claim(ctx context.Context, id int64, owner string, from jobqueue.State) (job *jobqueue.Job, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	job, err = s.lockJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.State == jobqueue.StateActive {
		return nil, jobqueue.ErrActiveJob
	}
	if from != "" && job.State != from {
		return nil, jobqueue.ErrStateConflict
	}
	if err = s.assignJobToWorker(ctx, tx, job, owner, s.now()); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim of job %d: %w", id, err)
	}
	return job, nil
}

func (s *Store) lockJob(ctx context.Context, tx *sql.Tx, id int64) (*jobqueue.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? %s`, columns, s.table, s.dialect.RowLock)
	job, err := scanJob(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("select job %d: %w", id, err)
	}
	return job, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*jobqueue.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, columns, s.table)
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("select job %d: %w", id, err)
	}
	return job, nil
}

func (s *Store) UpdateState(ctx context.Context, id int64, t jobqueue.Transition) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cur, err := s.lockJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if (t.From != "" && cur.State != t.From) || (t.Owner != "" && cur.LockedBy != t.Owner) {
		return jobqueue.ErrStateConflict
	}

	setClauses := []string{
		"status = ?",
		"updated_at = ?",
	}
	args := []any{
		string(t.To),
		s.now().UnixMicro(),
	}
	if t.Result != nil {
		setClauses = append(setClauses, "output = ?")
		args = append(args, string(t.Result))
	}
	if t.Error != "" {
		setClauses = append(setClauses, "error_output = ?")
		args = append(args, t.Error)
	}
	if t.To != jobqueue.StateActive {
		setClauses = append(setClauses, "locked_by = ''")
	}
	if t.To == jobqueue.StateDelayed {
		setClauses = append(setClauses, "available_at = ?")
		args = append(args, t.RunAt.UnixMicro())
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", s.table, strings.Join(setClauses, ", "))
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update of job %d: %w", id, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, queue string, state jobqueue.State) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue = ? AND status = ?`, s.table)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, queue, string(state)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s jobs: %w", state, err)
	}
	return n, nil
}

func (s *Store) Range(ctx context.Context, queue string, state jobqueue.State, offset, limit int, order jobqueue.Order) ([]*jobqueue.Job, error) {
	orderBy := "priority DESC, id ASC"
	if order == jobqueue.OrderDesc {
		orderBy = "priority ASC, id DESC"
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE queue = ? AND status = ?
		ORDER BY %s
		LIMIT ? OFFSET ?`, columns, s.table, orderBy)
	rows, err := s.db.QueryContext(ctx, query, queue, string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("range %s jobs: %w", state, err)
	}
	defer rows.Close()

	var jobs []*jobqueue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	if n == 0 {
		return jobqueue.ErrJobNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
