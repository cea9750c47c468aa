package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// Config holds configuration settings for the workflow engine
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Persisted workflow logs below this severity are dropped
		WorkflowLogLevel api.LogSeverity

		// Async Requests
		RequestTimeout time.Duration
		CallbackURL    string

		// Activity exception alerts are posted here when set
		AlertWebhookURL string

		// Stores & Archiving
		Store   StoreConfig
		Archive ArchiveConfig

		// Reentry & Retry
		Reentry ReentryConfig

		// Engine
		SemaphoreExpiry    time.Duration
		MaxParallelism     int
		RegistryCacheSize  int
		DefaultFailUrgency api.FailUrgency
		ShutdownTimeout    time.Duration
	}

	// StoreConfig selects and configures the persistence backend
	StoreConfig struct {
		Type          string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		SQLitePath    string
	}

	// ArchiveConfig points at the bucket receiving finished workflows. An
	// empty BucketURL disables archiving
	ArchiveConfig struct {
		BucketURL string
		Prefix    string
	}

	// ReentryConfig controls automatic reentry of postponed workflows.
	// Backoff values are in milliseconds
	ReentryConfig struct {
		InitBackoff int64
		MaxBackoff  int64
		BackoffType string
		MaxRetries  int
	}
)

const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
	StoreTypeSQLite = "sqlite"

	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSemaphoreExpiry = 10 * time.Minute

	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "workflow"
	DefaultRedisDB       = 0
	DefaultSQLitePath    = "workflow.db"
	DefaultArchivePrefix = "workflows/"

	DefaultRegistryCacheSize = 1024
	DefaultMaxParallelism    = 0

	DefaultReentryMaxRetries  = 10
	DefaultReentryInitBackoff = 1000
	DefaultReentryMaxBackoff  = 60000
	DefaultReentryBackoffType = BackoffTypeExponential

	MaxRegistryCacheSize  = 1_000_000
	MaxParallelismLimit   = 10_000
	MaxReentryMaxRetries  = 1000
	MaxReentryInitBackoff = 24 * 60 * 60 * 1000 // 1 day in ms
	MaxReentryMaxBackoff  = MaxReentryInitBackoff
	MaxSemaphoreExpiry    = MaxReentryInitBackoff
	MaxShutdownTimeout    = 10 * 60 * 1000
	MaxRequestTimeout     = MaxShutdownTimeout
)

var (
	ErrInvalidAPIPort           = errors.New("invalid API port")
	ErrInvalidStoreType         = errors.New("invalid store type")
	ErrRedisAddrRequired        = errors.New("redis store requires an address")
	ErrSQLitePathRequired       = errors.New("sqlite store requires a path")
	ErrInvalidRegistryCacheSize = errors.New(
		"registry cache size must be positive",
	)
	ErrInvalidMaxParallelism = errors.New(
		"max parallelism cannot be negative",
	)
	ErrInvalidFailUrgency    = errors.New("invalid default fail urgency")
	ErrInvalidRequestTimeout = errors.New(
		"request timeout must be positive",
	)
	ErrInvalidSemaphoreExpiry = errors.New(
		"semaphore expiry must be positive",
	)
	ErrInvalidMaxRetries = errors.New(
		"reentry max retries cannot be zero",
	)
	ErrInvalidInitBackoff = errors.New(
		"reentry initial backoff must be positive",
	)
	ErrInvalidMaxBackoff = errors.New(
		"reentry max backoff must be positive",
	)
	ErrMaxBackoffTooSmall = errors.New(
		"reentry max backoff must be >= reentry initial backoff",
	)
	ErrInvalidBackoffType = errors.New("invalid reentry backoff type")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// engine, its store, and reentry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:          DefaultAPIHost,
		APIPort:          DefaultAPIPort,
		LogLevel:         "info",
		WorkflowLogLevel: api.LogWarning,
		RequestTimeout:   DefaultRequestTimeout,
		Store: StoreConfig{
			Type:        StoreTypeMemory,
			RedisAddr:   DefaultRedisEndpoint,
			RedisDB:     DefaultRedisDB,
			RedisPrefix: DefaultRedisPrefix,
			SQLitePath:  DefaultSQLitePath,
		},
		Archive: ArchiveConfig{
			Prefix: DefaultArchivePrefix,
		},
		Reentry: ReentryConfig{
			InitBackoff: DefaultReentryInitBackoff,
			MaxBackoff:  DefaultReentryMaxBackoff,
			BackoffType: DefaultReentryBackoffType,
			MaxRetries:  DefaultReentryMaxRetries,
		},
		SemaphoreExpiry:    DefaultSemaphoreExpiry,
		MaxParallelism:     DefaultMaxParallelism,
		RegistryCacheSize:  DefaultRegistryCacheSize,
		DefaultFailUrgency: api.FailUrgencyStopping,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	loadEnvString("API_HOST", &c.APIHost)
	loadEnvString("LOG_LEVEL", &c.LogLevel)
	loadEnvString("STORE_TYPE", &c.Store.Type)
	loadEnvString("REDIS_ADDR", &c.Store.RedisAddr)
	loadEnvString("REDIS_PASSWORD", &c.Store.RedisPassword)
	loadEnvString("REDIS_PREFIX", &c.Store.RedisPrefix)
	loadEnvString("SQLITE_PATH", &c.Store.SQLitePath)
	loadEnvString("ARCHIVE_BUCKET_URL", &c.Archive.BucketURL)
	loadEnvString("ARCHIVE_PREFIX", &c.Archive.Prefix)
	loadEnvString("REENTRY_BACKOFF_TYPE", &c.Reentry.BackoffType)
	loadEnvString("CALLBACK_URL", &c.CallbackURL)
	loadEnvString("ALERT_WEBHOOK_URL", &c.AlertWebhookURL)

	if lvl := os.Getenv("WORKFLOW_LOG_LEVEL"); lvl != "" {
		c.WorkflowLogLevel = api.ParseLogSeverity(lvl)
	}
	if urgency := os.Getenv("DEFAULT_FAIL_URGENCY"); urgency != "" {
		c.DefaultFailUrgency = api.FailUrgency(urgency)
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REDIS_DB", &c.Store.RedisDB, -1, 15,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REGISTRY_CACHE_SIZE", &c.RegistryCacheSize, 0, MaxRegistryCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_PARALLELISM", &c.MaxParallelism, -1, MaxParallelismLimit,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REENTRY_MAX_RETRIES", &c.Reentry.MaxRetries, 0, MaxReentryMaxRetries,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REENTRY_INITIAL_BACKOFF", &c.Reentry.InitBackoff,
		0, MaxReentryInitBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"REENTRY_MAX_BACKOFF", &c.Reentry.MaxBackoff,
		0, MaxReentryMaxBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"SEMAPHORE_EXPIRY", &c.SemaphoreExpiry, MaxSemaphoreExpiry,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"REQUEST_TIMEOUT", &c.RequestTimeout, MaxRequestTimeout,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout, MaxShutdownTimeout,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	switch c.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if c.Store.RedisAddr == "" {
			return ErrRedisAddrRequired
		}
	case StoreTypeSQLite:
		if c.Store.SQLitePath == "" {
			return ErrSQLitePathRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStoreType, c.Store.Type)
	}

	if c.RegistryCacheSize <= 0 {
		return ErrInvalidRegistryCacheSize
	}

	if c.MaxParallelism < 0 {
		return ErrInvalidMaxParallelism
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	if c.SemaphoreExpiry <= 0 {
		return ErrInvalidSemaphoreExpiry
	}

	if !c.DefaultFailUrgency.IsValid() {
		return fmt.Errorf("%w: %s",
			ErrInvalidFailUrgency, c.DefaultFailUrgency)
	}

	return c.Reentry.Validate()
}

// Validate checks the reentry backoff settings
func (r ReentryConfig) Validate() error {
	if r.MaxRetries == 0 {
		return ErrInvalidMaxRetries
	}

	if r.InitBackoff <= 0 {
		return ErrInvalidInitBackoff
	}

	if r.MaxBackoff <= 0 {
		return ErrInvalidMaxBackoff
	}

	if r.MaxBackoff < r.InitBackoff {
		return ErrMaxBackoffTooSmall
	}

	switch r.BackoffType {
	case BackoffTypeFixed, BackoffTypeLinear, BackoffTypeExponential:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, r.BackoffType)
	}
}

func loadEnvString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvMillis(key string, dst *time.Duration, max int64) error {
	ms := int64(*dst / time.Millisecond)
	if err := loadEnvInt(key, &ms, -1, max); err != nil {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
