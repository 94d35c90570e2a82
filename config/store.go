package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Store config struct
type Store struct {
	Driver string
	Redis  *Redis
	MySQL  *MySQL
	SQLite *SQLite
}

// Redis config struct
type Redis struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// MySQL config struct
type MySQL struct {
	DSN             string
	DbName          string
	Table           string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// SQLite config struct
type SQLite struct {
	Path  string
	Table string
}

func getStoreConfig(v *viper.Viper) *Store {
	return &Store{
		Driver: v.GetString("store.driver"),
		Redis: &Redis{
			Addr:        v.GetString("store.redis.addr"),
			Username:    v.GetString("store.redis.username"),
			Password:    v.GetString("store.redis.password"),
			DB:          v.GetInt("store.redis.db"),
			Prefix:      v.GetString("store.redis.prefix"),
			DialTimeout: v.GetDuration("store.redis.dial_timeout"),
		},
		MySQL: &MySQL{
			DSN:             v.GetString("store.mysql.dsn"),
			DbName:          v.GetString("store.mysql.db_name"),
			Table:           v.GetString("store.mysql.table"),
			MaxOpenConns:    v.GetInt("store.mysql.max_open_conns"),
			ConnMaxLifetime: v.GetDuration("store.mysql.conn_max_lifetime"),
			Migrate:         v.GetBool("store.mysql.migrate"),
		},
		SQLite: &SQLite{
			Path:  v.GetString("store.sqlite.path"),
			Table: v.GetString("store.sqlite.table"),
		},
	}
}

func (s *Store) validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverRedis:
		if s.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
	case DriverMySQL:
		if s.MySQL.DSN == "" {
			return errors.New("store.mysql.dsn is required")
		}
	case DriverSQLite:
		if s.SQLite.Path == "" {
			return errors.New("store.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
	return nil
}
