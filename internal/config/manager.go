package config

import (
	"fmt"
	"time"
)

// ManagerConfig holds the manager/dispatcher and scheduler/result-backend
// toggles that sit alongside the core Config. Split out because these
// tunables are only meaningful to the worker process, not to ops tooling
// that only needs a queue connection (e.g. cmd/enqueue).
type ManagerConfig struct {
	// Host identifies this process in the process table and worker ids.
	Host string

	// Queues is the ordered list of queue names polled every tick.
	Queues []string

	// Concurrency is the maximum number of in-flight workers.
	Concurrency int

	// PollTimeout is how long the dispatch loop sleeps when the queues
	// are empty or the concurrency cap is reached.
	PollTimeout time.Duration

	// JobTimeout bounds a single job's handler execution. Zero disables
	// the ceiling.
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
}

// LoadManagerConfig loads manager-specific configuration from environment
// variables. Queues, concurrency, timeouts, scheduler and result settings
// read the same variables and defaults as Config; Host comes from
// EXQ_WORKER_HOST, then HOSTNAME, then "exq-worker".
func LoadManagerConfig() (*ManagerConfig, error) {
	hostname := getEnv("EXQ_WORKER_HOST", "")
	if hostname == "" {
		hostname = getEnv("HOSTNAME", "exq-worker")
	}

	cfg := &ManagerConfig{
		Host:                 hostname,
		Queues:               getEnvAsStringSlice("EXQ_QUEUES", []string{"default"}),
		Concurrency:          getEnvAsInt("EXQ_CONCURRENCY", 25),
		PollTimeout:          getEnvAsDuration("EXQ_POLL_TIMEOUT", 50*time.Millisecond),
		JobTimeout:           getEnvAsDuration("EXQ_JOB_TIMEOUT", 5*time.Minute),
		SchedulerEnabled:     getEnvAsBool("EXQ_SCHEDULER_ENABLED", true),
		SchedulerInterval:    getEnvAsDuration("EXQ_SCHEDULER_INTERVAL", 1*time.Second),
		ResultBackendEnabled: getEnvAsBool("EXQ_RESULT_BACKEND_ENABLED", true),
		ResultTTLSuccess:     getEnvAsDuration("EXQ_RESULT_TTL_SUCCESS", 1*time.Hour),
		ResultTTLFailure:     getEnvAsDuration("EXQ_RESULT_TTL_FAILURE", 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the manager configuration for internal consistency.
func (c *ManagerConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("manager host cannot be empty")
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("manager must poll at least one queue")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("manager concurrency must be at least 1 (got %d)", c.Concurrency)
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("manager concurrency too high: %d (maximum 1000)", c.Concurrency)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}
	if c.SchedulerEnabled {
		if c.SchedulerInterval < 100*time.Millisecond {
			return fmt.Errorf("scheduler interval too short: %v (minimum 100ms)", c.SchedulerInterval)
		}
		if c.SchedulerInterval > 1*time.Minute {
			return fmt.Errorf("scheduler interval too long: %v (maximum 1 minute)", c.SchedulerInterval)
		}
	}
	return nil
}

// String returns a human-readable description of the manager config.
func (c *ManagerConfig) String() string {
	scheduler := "disabled"
	if c.SchedulerEnabled {
		scheduler = fmt.Sprintf("enabled (interval: %v)", c.SchedulerInterval)
	}
	resultBackend := "disabled"
	if c.ResultBackendEnabled {
		resultBackend = fmt.Sprintf("enabled (success_ttl=%v, failure_ttl=%v)", c.ResultTTLSuccess, c.ResultTTLFailure)
	}
	return fmt.Sprintf(
		"ManagerConfig{host=%s, queues=%v, concurrency=%d, poll_timeout=%v, job_timeout=%v, scheduler=%s, result_backend=%s}",
		c.Host, c.Queues, c.Concurrency, c.PollTimeout, c.JobTimeout, scheduler, resultBackend,
	)
}
