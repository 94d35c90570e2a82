// Package config loads the jobqueue command configuration from a file and
// JOBQUEUE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. JOBQUEUE_STORE_DRIVER.
const EnvPrefix = "JOBQUEUE"

// Config represents the configuration implementation.
type Config struct {
	Store    *Store
	Logger   *Logger
	Queue    *Queue
	Watchdog *Watchdog
	Shutdown *Shutdown
	Viper    *viper.Viper
}

// Watchdog config struct
type Watchdog struct {
	Interval   time.Duration
	StuckAfter time.Duration
}

// Shutdown config struct
type Shutdown struct {
	Timeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.redis.addr", "127.0.0.1:6379")
	v.SetDefault("store.redis.username", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "jq:")
	v.SetDefault("store.redis.dial_timeout", 5*time.Second)
	v.SetDefault("store.mysql.dsn", "")
	v.SetDefault("store.mysql.db_name", "")
	v.SetDefault("store.mysql.table", "jobs")
	v.SetDefault("store.mysql.max_open_conns", 10)
	v.SetDefault("store.mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.mysql.migrate", true)
	v.SetDefault("store.sqlite.path", "jobqueue.db")
	v.SetDefault("store.sqlite.table", "jobs")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")

	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.attempts", 1)
	v.SetDefault("queue.delay", time.Duration(0))
	v.SetDefault("queue.ttl", time.Duration(0))
	v.SetDefault("queue.remove_on_complete", false)
	v.SetDefault("queue.no_failure", false)
	v.SetDefault("queue.poll_interval", time.Second)

	v.SetDefault("watchdog.interval", 10*time.Second)
	v.SetDefault("watchdog.stuck_after", 5*time.Minute)

	v.SetDefault("shutdown.timeout", 30*time.Second)
}

// Load reads the configuration from configPath. With an empty path it looks
// for jobqueue.{yaml,json,toml} in the working directory, $HOME/.jobqueue
// and /etc/jobqueue, and falls back to defaults when none exists.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("jobqueue")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".jobqueue"))
		}
		v.AddConfigPath("/etc/jobqueue")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Store:    getStoreConfig(v),
		Logger:   getLoggerConfig(v),
		Queue:    getQueueConfig(v),
		Watchdog: getWatchdogConfig(v),
		Shutdown: &Shutdown{Timeout: v.GetDuration("shutdown.timeout")},
		Viper:    v,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getWatchdogConfig(v *viper.Viper) *Watchdog {
	return &Watchdog{
		Interval:   v.GetDuration("watchdog.interval"),
		StuckAfter: v.GetDuration("watchdog.stuck_after"),
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Store.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Logger.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Queue.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Watchdog.Interval < 0 || c.Watchdog.StuckAfter < 0 {
		errs = append(errs, errors.New("watchdog: durations must not be negative"))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, errors.New("shutdown: timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
