package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a Redis-based mutual-exclusion lock scoped to one
// key, so that when several scheduler processes share a namespace only
// one of them promotes a given delayed batch or fires a given cron tick.
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLock attempts a SETNX against key. It returns (nil, nil) if the
// lock is already held elsewhere — the caller should treat that as "skip
// this tick", not an error.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*DistributedLock, error) {
	token, err := newLockToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}

	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	return &DistributedLock{client: client, key: key, token: token, ttl: ttl}, nil
}

// Release deletes the lock key, but only if it still holds our token —
// a Lua compare-and-delete so a slow process can never release a lock
// that a faster process already re-acquired after this one's TTL expired.
func (l *DistributedLock) Release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.token).Result()
	return err
}

// Extend pushes the lock's TTL out, but only while we still own it.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock no longer owned by this instance")
	}
	l.ttl = ttl
	return nil
}

// Key returns the Redis key this lock guards.
func (l *DistributedLock) Key() string { return l.key }

// Token returns this lock holder's opaque ownership token.
func (l *DistributedLock) Token() string { return l.token }

// TTL returns the lock's current time-to-live.
func (l *DistributedLock) TTL() time.Duration { return l.ttl }

func newLockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
