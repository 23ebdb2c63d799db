package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sideport/exqgo/internal/logger"
)

// Config holds all configuration for the exqgo application.
type Config struct {
	// Host is the Redis server host.
	Host string
	// Port is the Redis server port.
	Port int
	// Database is the Redis logical database index.
	Database int
	// Password is the Redis AUTH password, empty if unauthenticated.
	Password string
	// Namespace prefixes every Redis key this service touches.
	Namespace string
	// Queues is the ordered list of queue names the manager polls.
	Queues []string
	// PollTimeout is how long the manager sleeps when a poll finds no job.
	PollTimeout time.Duration
	// ReconnectOnSleep is loaded from EXQ_RECONNECT_ON_SLEEP; no component
	// reads it (the manager waits PollTimeout after a failed dequeue).
	ReconnectOnSleep time.Duration
	// Concurrency is the number of jobs a manager may run at once.
	Concurrency int
	// JobTimeout bounds how long a single job may run before its context is cancelled.
	JobTimeout time.Duration
	// SchedulerEnabled toggles the cron/delayed-promotion scheduler.
	SchedulerEnabled bool
	// SchedulerInterval is the tick period for the scheduler.
	SchedulerInterval time.Duration
	// ResultBackendEnabled toggles persisting per-job outcomes.
	ResultBackendEnabled bool
	// ResultTTLSuccess is how long a successful result is retained.
	ResultTTLSuccess time.Duration
	// ResultTTLFailure is how long a failed result is retained.
	ResultTTLFailure time.Duration
	// Logging configuration.
	Logging *logger.Config
}

// RedisAddr returns the host:port pair for dialing Redis.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Host:                 getEnv("EXQ_HOST", "127.0.0.1"),
		Port:                 getEnvAsInt("EXQ_PORT", 6379),
		Database:             getEnvAsInt("EXQ_DATABASE", 0),
		Password:             getEnv("EXQ_PASSWORD", ""),
		Namespace:            getEnv("EXQ_NAMESPACE", "exq"),
		Queues:               getEnvAsStringSlice("EXQ_QUEUES", []string{"default"}),
		PollTimeout:          getEnvAsDuration("EXQ_POLL_TIMEOUT", 50*time.Millisecond),
		ReconnectOnSleep:     getEnvAsDuration("EXQ_RECONNECT_ON_SLEEP", 100*time.Millisecond),
		Concurrency:          getEnvAsInt("EXQ_CONCURRENCY", 25),
		JobTimeout:           getEnvAsDuration("EXQ_JOB_TIMEOUT", 5*time.Minute),
		SchedulerEnabled:     getEnvAsBool("EXQ_SCHEDULER_ENABLED", true),
		SchedulerInterval:    getEnvAsDuration("EXQ_SCHEDULER_INTERVAL", 1*time.Second),
		ResultBackendEnabled: getEnvAsBool("EXQ_RESULT_BACKEND_ENABLED", true),
		ResultTTLSuccess:     getEnvAsDuration("EXQ_RESULT_TTL_SUCCESS", 1*time.Hour),
		ResultTTLFailure:     getEnvAsDuration("EXQ_RESULT_TTL_FAILURE", 24*time.Hour),
		Logging:              loadLoggingConfig(),
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("EXQ_HOST cannot be empty")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("EXQ_PORT must be positive")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("EXQ_NAMESPACE cannot be empty")
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("EXQ_QUEUES must contain at least one queue name")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("EXQ_CONCURRENCY must be at least 1")
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/exqgo/exqgo.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	// Tier 3: Elasticsearch
	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")

	// Self-managed mode
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")

	// Cloud mode
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")

	// Common ES settings
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "exqgo-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDuration("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDuration("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDuration("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}
