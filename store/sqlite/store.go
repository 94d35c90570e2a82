// Package sqlite provides a SQLite backed jobqueue.Store. Writers are
// serialized by immediate transactions, which makes claims atomic across
// processes sharing the database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sky93/jobqueue/store/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			no_failure BOOLEAN NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attempts_made INTEGER NOT NULL DEFAULT 0,
			attempts_max INTEGER NOT NULL DEFAULT 1,
			delay_us INTEGER NOT NULL DEFAULT 0,
			backoff BOOLEAN NOT NULL DEFAULT 0,
			ttl_us INTEGER NOT NULL DEFAULT 0,
			remove_on_complete BOOLEAN NOT NULL DEFAULT 0,
			output TEXT NULL,
			error_output TEXT NOT NULL DEFAULT '',
			locked_by TEXT NOT NULL DEFAULT '',
			available_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS %[1]s_claim_idx ON %[1]s (queue, status, priority, id)`,
		`CREATE INDEX IF NOT EXISTS %[1]s_available_idx ON %[1]s (queue, status, available_at)`,
	},
}

// Config holds the database settings.
type Config struct {
	// Path of the database file.
	Path string

	// Table defaults to "jobs".
	Table string
}

// Open opens (creating when needed) the database at cfg.Path and migrates it.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is empty")
	}
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	dsn := fmt.Sprintf("file:%s?%s", cfg.Path, q.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection keeps transactions strictly serialized within the process.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	st := sqlstore.New(db, table, Dialect)
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
