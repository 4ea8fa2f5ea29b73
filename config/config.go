// Package config loads service configuration from defaults, an optional TOML
// file, an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigFile names the environment variable holding the TOML file path.
const EnvConfigFile = "DOZENFLOW_CONFIG"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverTables   = "tables"
)

// Auth modes.
const (
	AuthNone  = "none"
	AuthJWKS  = "jwks"
	AuthHS256 = "hs256"
)

// Duration wraps time.Duration so it can be written as "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the full configuration of the service.
type Config struct {
	Debug   bool          `toml:"debug"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Storage StorageConfig `toml:"storage"`
	Cache   CacheConfig   `toml:"cache"`
	Events  EventsConfig  `toml:"events"`
	Auth    AuthConfig    `toml:"auth"`
	Board   BoardConfig   `toml:"board"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type StorageConfig struct {
	Driver           string `toml:"driver"`
	DSN              string `toml:"dsn"`
	AutoMigrate      bool   `toml:"auto_migrate"`
	ConnectionString string `toml:"connection_string"`
	TasksTable       string `toml:"tasks_table"`
}

type CacheConfig struct {
	Redis          string   `toml:"redis"`
	TTL            Duration `toml:"ttl"`
	// IdempotencyTTL bounds how long Idempotency-Key values are remembered.
	IdempotencyTTL Duration `toml:"idempotency_ttl"`
}

type EventsConfig struct {
	Queue string `toml:"queue"`
}

type AuthConfig struct {
	Mode     string `toml:"mode"`
	Domain   string `toml:"domain"`
	Audience string `toml:"audience"`
	Secret   string `toml:"secret"`
}

type BoardConfig struct {
	Statuses []string `toml:"statuses"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			DSN:         "file:dozenflow.db",
			AutoMigrate: true,
			TasksTable:  "tasks",
		},
		Cache: CacheConfig{TTL: Duration{5 * time.Minute}, IdempotencyTTL: Duration{24 * time.Hour}},
		Auth:  AuthConfig{Mode: AuthNone},
		Board: BoardConfig{Statuses: []string{"TODO", "IN_PROGRESS", "DONE"}},
	}
}

// Load builds the configuration. path may be empty, in which case the file
// named by DOZENFLOW_CONFIG is used if set. A missing .env file is ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		dst.Duration = d
		return nil
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && v != "" {
		cfg.Server.Addr = ":" + v
	}
	list("CORS_ORIGINS", &cfg.Server.CORSOrigins)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_FILE", &cfg.Log.File)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DATABASE_URL", &cfg.Storage.DSN)
	str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	str("TASKS_TABLE", &cfg.Storage.TasksTable)
	str("TASK_EVENTS_QUEUE", &cfg.Events.Queue)
	str("REDIS_CONNECTION_STRING", &cfg.Cache.Redis)
	str("AUTH_MODE", &cfg.Auth.Mode)
	str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	str("LOCAL_AUTH_SHARED_SECRET", &cfg.Auth.Secret)
	list("BOARD_STATUSES", &cfg.Board.Statuses)

	for _, err := range []error{
		boolean("DEBUG", &cfg.Debug),
		boolean("AUTO_MIGRATE", &cfg.Storage.AutoMigrate),
		duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout),
		duration("TASKS_CACHE_TTL", &cfg.Cache.TTL),
		duration("IDEMPOTENCY_TTL", &cfg.Cache.IdempotencyTTL),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case DriverTables:
		if c.Storage.ConnectionString == "" {
			return errors.New("storage.connection_string is required for driver tables")
		}
		if c.Storage.TasksTable == "" {
			return errors.New("storage.tasks_table is required for driver tables")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Events.Queue != "" && c.Storage.ConnectionString == "" {
		return errors.New("events.queue requires storage.connection_string")
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthJWKS:
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			return errors.New("auth.domain and auth.audience are required for jwks auth")
		}
	case AuthHS256:
		if c.Auth.Secret == "" {
			return errors.New("auth.secret is required for hs256 auth")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", c.Auth.Mode)
	}
	if len(c.Board.Statuses) == 0 {
		return errors.New("board.statuses must not be empty")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Cache.Redis != "" && c.Cache.TTL.Duration <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Cache.Redis != "" && c.Cache.IdempotencyTTL.Duration <= 0 {
		return errors.New("cache.idempotency_ttl must be positive")
	}
	return nil
}
