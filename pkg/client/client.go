// Package client offers a thin, safe-for-concurrent-use façade over the
// queue engine and result backend for programs that only enqueue and/or
// poll results without running a Manager themselves — a web handler
// submitting work, an ops script checking on a job.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sideport/exqgo/internal/job"
	"github.com/sideport/exqgo/internal/queue"
	"github.com/sideport/exqgo/internal/result"
	"github.com/redis/go-redis/v9"
)

// Client submits jobs and reads their results. It owns no worker pool
// and never dequeues.
type Client struct {
	client  *redis.Client
	queue   *queue.Queue
	results result.Backend
}

// Config configures a Client's Redis connection and result-backend TTLs.
type Config struct {
	Addr       string
	Password   string
	DB         int
	Namespace  string
	SuccessTTL time.Duration
	FailureTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "exq"
	}
	if c.SuccessTTL == 0 {
		c.SuccessTTL = 1 * time.Hour
	}
	if c.FailureTTL == 0 {
		c.FailureTTL = 24 * time.Hour
	}
	return c
}

// New connects a Client to Redis using cfg.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{
		client:  rdb,
		queue:   queue.New(rdb, cfg.Namespace),
		results: result.NewRedisBackend(rdb, cfg.Namespace, cfg.SuccessTTL, cfg.FailureTTL),
	}, nil
}

// NewFromURL parses a redis:// URL and connects a Client against it,
// using default namespace and result TTLs.
func NewFromURL(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return New(Config{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
}

// SubmitJob enqueues a job of class into queueName with args, immediately
// dequeuable. Returns the generated jid.
func (c *Client) SubmitJob(ctx context.Context, queueName, class string, args ...interface{}) (string, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return "", err
	}
	jid, err := c.queue.Enqueue(ctx, queueName, class, raw)
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	return jid, nil
}

// SubmitJobIn enqueues a job to become dequeuable after delay elapses.
func (c *Client) SubmitJobIn(ctx context.Context, queueName, class string, delay time.Duration, args ...interface{}) (string, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return "", err
	}
	jid, err := c.queue.EnqueueIn(ctx, queueName, class, raw, delay)
	if err != nil {
		return "", fmt.Errorf("failed to submit delayed job: %w", err)
	}
	return jid, nil
}

// SubmitJobAt enqueues a job to become dequeuable at the given instant.
func (c *Client) SubmitJobAt(ctx context.Context, queueName, class string, at time.Time, args ...interface{}) (string, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return "", err
	}
	jid, err := c.queue.EnqueueAt(ctx, queueName, class, raw, at)
	if err != nil {
		return "", fmt.Errorf("failed to submit scheduled job: %w", err)
	}
	return jid, nil
}

// Status returns the stored terminal result for jid, or nil if the job
// has not completed (or never existed, or its result already expired).
func (c *Client) Status(ctx context.Context, jid string) (*job.Result, error) {
	r, err := c.results.GetResult(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return r, nil
}

// Wait blocks until jid's result is published or timeout elapses.
// Returns nil, nil on timeout.
func (c *Client) Wait(ctx context.Context, jid string, timeout time.Duration) (*job.Result, error) {
	r, err := c.results.WaitForResult(ctx, jid, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for result: %w", err)
	}
	return r, nil
}

// Close releases the client's Redis connection. The result backend
// shares that connection, so it is closed once here rather than also
// through the backend's own Close.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func marshalArgs(args []interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal argument %d: %w", i, err)
		}
		raw[i] = b
	}
	return raw, nil
}
