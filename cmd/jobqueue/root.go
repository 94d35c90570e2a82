package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sky93/jobqueue"
	"github.com/sky93/jobqueue/config"
	"github.com/sky93/jobqueue/store/memory"
	"github.com/sky93/jobqueue/store/mysql"
	"github.com/sky93/jobqueue/store/redis"
	"github.com/sky93/jobqueue/store/sqlite"
)

// app is the state shared by every subcommand.
type app struct {
	cfgPath string
	cfg     *config.Config
	logger  *logrus.Logger
	store   jobqueue.Store
	client  *jobqueue.Client
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logrus.New()}

	root := &cobra.Command{
		Use:           "jobqueue",
		Short:         "Job queue orchestration over a shared job store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default: ./jobqueue.yaml)")

	root.AddCommand(
		newEnqueueCmd(a),
		newStatusCmd(a),
		newStatsCmd(a),
		newProcessCmd(a),
		newWorkCmd(a),
		newCleanupCmd(a),
		newPurgeCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if err := cfg.Logger.Apply(a.logger); err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	a.store = st
	a.logger.WithField("driver", cfg.Store.Driver).Debug("job store opened")
	return nil
}

// newClient builds the client; only long running commands enable the
// watchdog.
func (a *app) newClient(watchdog bool) (*jobqueue.Client, error) {
	cfg := jobqueue.Config{
		Store:        a.store,
		PollInterval: a.cfg.Queue.PollInterval,
		StuckAfter:   a.cfg.Watchdog.StuckAfter,
		Logger:       a.logger,
	}
	if watchdog {
		cfg.WatchdogInterval = a.cfg.Watchdog.Interval
	}
	c, err := jobqueue.New(cfg)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) close() error {
	if a.client != nil {
		a.client.Exit(a.cfg.Shutdown.Timeout)
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Store) (jobqueue.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverRedis:
		return redis.Open(ctx, redis.Config{
			Addr:        cfg.Redis.Addr,
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Prefix:      cfg.Redis.Prefix,
			DialTimeout: cfg.Redis.DialTimeout,
		})
	case config.DriverMySQL:
		return mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			DbName:          cfg.MySQL.DbName,
			Table:           cfg.MySQL.Table,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			Migrate:         cfg.MySQL.Migrate,
		})
	case config.DriverSQLite:
		return sqlite.Open(ctx, sqlite.Config{
			Path:  cfg.SQLite.Path,
			Table: cfg.SQLite.Table,
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
