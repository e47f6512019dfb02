package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "auditlog/pkg/platform/strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
)

// Config is the process configuration.
type Config struct {
	Server       Server
	Log          Log
	Store        Store
	Redis        RedisConfig
	Stream       Stream
	RegistryFile string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	JWTSigningKey   string
	// TrackReads logs every entry detail read as a view of that entry.
	TrackReads bool
}

// Log configures the slog handler.
type Log struct {
	Level  string
	Format string // "json" or "text"
}

// Store selects and locates the entry store.
type Store struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// Stream configures the optional Kafka change stream mirror.
type Stream struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	PublishTimeout    time.Duration
}

// Enabled reports whether brokers are configured.
func (s Stream) Enabled() bool { return len(s.Brokers) > 0 }

// FromEnv builds a Config from environment variables, after loading an
// optional .env file from the working directory.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.Getenv)
}

// Load builds a Config from getenv. Tests pass a map lookup.
func Load(getenv func(string) string) (Config, error) {
	e := env{getenv: getenv}
	cfg := Config{
		Server: Server{
			Addr:            e.str("AUDITLOG_ADDR", ":8080"),
			ShutdownTimeout: e.duration("AUDITLOG_SHUTDOWN_TIMEOUT", 10*time.Second),
			JWTSigningKey:   e.str("JWT_SIGNING_KEY", ""),
			TrackReads:      e.bool("AUDITLOG_TRACK_READS", false),
		},
		Log: Log{
			Level:  e.str("AUDITLOG_LOG_LEVEL", "info"),
			Format: e.str("AUDITLOG_LOG_FORMAT", "json"),
		},
		Store: Store{
			Backend:     strings.ToLower(e.str("AUDITLOG_STORE", StoreMemory)),
			DatabaseURL: e.str("DATABASE_URL", ""),
			SQLitePath:  e.str("SQLITE_PATH", "auditlog.db"),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    e.str("REDIS_KEY_PREFIX", "auditlog:"),
		},
		Stream: Stream{
			Brokers:           e.list("KAFKA_BROKERS"),
			Topic:             e.str("KAFKA_TOPIC", "auditlog.entries"),
			Partitions:        int32(e.int("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(e.int("KAFKA_TOPIC_REPLICATION", 1)),
			PublishTimeout:    e.duration("KAFKA_PUBLISH_TIMEOUT", 5*time.Second),
		},
		RegistryFile: e.str("AUDITLOG_REGISTRY_FILE", ""),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown AUDITLOG_STORE %q", c.Store.Backend)
	}
	if c.Stream.PublishTimeout <= 0 {
		return errors.New("KAFKA_PUBLISH_TIMEOUT must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("unknown AUDITLOG_LOG_FORMAT %q", c.Log.Format)
	}
	return nil
}

type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) bool(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	v := e.str(key, "")
	if v == "" {
		return nil
	}
	return pkgstrings.DedupeAndTrim(strings.Split(v, ","))
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
