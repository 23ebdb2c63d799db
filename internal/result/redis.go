package result

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sideport/exqgo/internal/errors"
	"github.com/sideport/exqgo/internal/job"
	"github.com/sideport/exqgo/internal/keys"
	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on top of a hash per jid plus a
// pub/sub channel used to wake up waiters.
type RedisBackend struct {
	client     *redis.Client
	keys       keys.Builder
	successTTL time.Duration
	failureTTL time.Duration
}

// NewRedisBackend wraps an existing Redis client as a result backend for
// the given namespace. successTTL/failureTTL bound how long a completed
// or failed job's result is retained.
func NewRedisBackend(client *redis.Client, namespace string, successTTL, failureTTL time.Duration) *RedisBackend {
	return &RedisBackend{
		client:     client,
		keys:       keys.New(namespace),
		successTTL: successTTL,
		failureTTL: failureTTL,
	}
}

// StoreResult writes r's fields to its result hash and publishes a
// "ready" notification on the matching result:notify channel.
func (r *RedisBackend) StoreResult(ctx context.Context, res *job.Result) error {
	key := r.keys.Result(res.JID)
	notifyChannel := r.keys.ResultNotify(res.JID)

	data := map[string]interface{}{
		"status":       string(res.Status),
		"completed_at": res.CompletedAt.Format(time.RFC3339),
		"duration_ms":  res.Duration.Milliseconds(),
	}
	if res.IsSuccess() && len(res.Value) > 0 {
		data["result"] = string(res.Value)
	}
	if res.IsFailed() && res.Error != "" {
		data["error"] = res.Error
	}

	ttl := r.successTTL
	if res.IsFailed() {
		ttl = r.failureTTL
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	pipe.Publish(ctx, notifyChannel, "ready")
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.RedisUnavailable("failed to store result", err)
	}
	return nil
}

// GetResult returns the stored result for jid, or nil if absent.
func (r *RedisBackend) GetResult(ctx context.Context, jid string) (*job.Result, error) {
	data, err := r.client.HGetAll(ctx, r.keys.Result(jid)).Result()
	if err != nil {
		return nil, errors.RedisUnavailable("failed to get result", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	res := &job.Result{JID: jid}
	if status, ok := data["status"]; ok {
		res.Status = job.ResultStatus(status)
	}
	if completedAt, ok := data["completed_at"]; ok {
		if t, err := time.Parse(time.RFC3339, completedAt); err == nil {
			res.CompletedAt = t
		}
	}
	if ms, ok := data["duration_ms"]; ok {
		if parsed, err := strconv.ParseInt(ms, 10, 64); err == nil {
			res.Duration = time.Duration(parsed) * time.Millisecond
		}
	}
	if value, ok := data["result"]; ok {
		res.Value = json.RawMessage(value)
	}
	if errMsg, ok := data["error"]; ok {
		res.Error = errMsg
	}
	return res, nil
}

// WaitForResult checks for an already-stored result, then subscribes to
// the notify channel and blocks until notified or timeout elapses,
// re-checking once more before giving up to cover the race between a
// late subscribe and an early publish.
func (r *RedisBackend) WaitForResult(ctx context.Context, jid string, timeout time.Duration) (*job.Result, error) {
	if res, err := r.GetResult(ctx, jid); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := r.client.Subscribe(waitCtx, r.keys.ResultNotify(jid))
	defer pubsub.Close()

	select {
	case <-waitCtx.Done():
		return r.GetResult(ctx, jid)
	case msg := <-pubsub.Channel():
		if msg != nil && msg.Payload == "ready" {
			return r.GetResult(ctx, jid)
		}
	}
	return nil, nil
}

// DeleteResult removes jid's stored result, if any.
func (r *RedisBackend) DeleteResult(ctx context.Context, jid string) error {
	if err := r.client.Del(ctx, r.keys.Result(jid)).Err(); err != nil {
		return errors.RedisUnavailable(fmt.Sprintf("failed to delete result %s", jid), err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisBackend) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
