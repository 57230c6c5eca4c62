package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/session"
)

// ErrConfig marks invalid configuration. It is never retried.
var ErrConfig = errors.New("invalid configuration")

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Username string
	Password string
	// BaseURL overrides the portal address.
	BaseURL  string
	Language entity.Language
	StateDir string

	CacheBackend string
	// CachePath is the SQLite file; it defaults to <StateDir>/stine.sqlite.
	CachePath string
	Redis     RedisConfig

	SessionMaxIdle time.Duration
	// DetectLevel is the level collections are listed at for change detection.
	DetectLevel entity.Level

	Timeout     time.Duration
	HTTPRetries int
	Proxy       string
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Language:       entity.German,
		CacheBackend:   BackendSQLite,
		SessionMaxIdle: session.DefaultMaxIdle,
		DetectLevel:    entity.LevelSummary,
		Timeout:        2 * time.Minute,
		HTTPRetries:    3,
		Concurrency:    4,
	}
}

func (c Config) Validate() error {
	if _, err := entity.ParseLanguage(string(c.Language)); err != nil {
		return fmt.Errorf("%w: language: %w", ErrConfig, err)
	}
	if c.StateDir == "" {
		return fmt.Errorf("%w: state_dir is empty", ErrConfig)
	}
	switch c.CacheBackend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: cache.backend is redis but redis.addr is empty", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache.backend %q", ErrConfig, c.CacheBackend)
	}
	if c.SessionMaxIdle <= 0 {
		return fmt.Errorf("%w: session.max_idle must be positive", ErrConfig)
	}
	if c.DetectLevel < entity.LevelSummary || !c.DetectLevel.Valid() {
		return fmt.Errorf("%w: detect.level must be summary, detailed or full", ErrConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrConfig)
	}
	if c.HTTPRetries < 0 {
		return fmt.Errorf("%w: http.retries must not be negative", ErrConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrConfig)
	}
	return nil
}

func (c Config) cachePath() string {
	if c.CachePath != "" {
		return c.CachePath
	}
	return filepath.Join(c.StateDir, "stine.sqlite")
}
