// Package mysql provides a MySQL backed jobqueue.Store.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/sky93/jobqueue/store/sqlstore"
)

// Dialect claims with SKIP LOCKED so concurrent workers never wait on each
// other's candidate row. Requires MySQL 8.0 or later.
var Dialect = sqlstore.Dialect{
	Name:      "mysql",
	RowLock:   "FOR UPDATE",
	ClaimLock: "FOR UPDATE SKIP LOCKED",
	Schema: []string{`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		queue VARCHAR(191) NOT NULL,
		payload LONGBLOB NOT NULL,
		no_failure TINYINT(1) NOT NULL DEFAULT 0,
		priority INT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		attempts_made INT NOT NULL DEFAULT 0,
		attempts_max INT NOT NULL DEFAULT 1,
		delay_us BIGINT NOT NULL DEFAULT 0,
		backoff TINYINT(1) NOT NULL DEFAULT 0,
		ttl_us BIGINT NOT NULL DEFAULT 0,
		remove_on_complete TINYINT(1) NOT NULL DEFAULT 0,
		output LONGTEXT NULL,
		error_output TEXT NOT NULL,
		locked_by VARCHAR(191) NOT NULL DEFAULT '',
		available_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		KEY idx_jobs_claim (queue, status, priority, id),
		KEY idx_jobs_available (queue, status, available_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// Config holds the connection settings.
type Config struct {
	// DSN in go-sql-driver format, e.g. "user:pass@tcp(127.0.0.1:3306)/app".
	DSN string

	// DbName qualifies the table when set.
	DbName string

	// Table defaults to "jobs".
	Table string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// Migrate creates the table on Open.
	Migrate bool
}

// Open connects to MySQL and returns a Store.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: invalid dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: failed to ping server: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if cfg.DbName != "" {
		table = cfg.DbName + "." + table
	}

	st := sqlstore.New(db, table, Dialect)
	if cfg.Migrate {
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return st, nil
}
