// Package queue implements the Sidekiq-compatible queue engine: enqueue,
// dequeue, peek and removal against named Redis lists, plus the
// delayed-job sorted set used by the scheduler.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sideport/exqgo/internal/errors"
	"github.com/sideport/exqgo/internal/job"
	"github.com/sideport/exqgo/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Queue is the Redis-backed queue engine described in the job data
// model: a `queues` registration set, one FIFO list per named queue,
// and a `schedule` sorted set for jobs awaiting a future enqueue time.
type Queue struct {
	client *redis.Client
	keys   keys.Builder
}

// New wraps an existing Redis client with the queue engine's key layout
// for the given namespace.
func New(client *redis.Client, namespace string) *Queue {
	return &Queue{client: client, keys: keys.New(namespace)}
}

// Enqueue registers queue in the queues set and pushes a freshly minted
// job onto queue:<queue>. It returns the new jid.
func (q *Queue) Enqueue(ctx context.Context, queueName, class string, args []json.RawMessage) (string, error) {
	j := job.New(queueName, class, args)
	raw, err := j.Encode()
	if err != nil {
		return "", errors.DecodeError("failed to encode job for enqueue", err)
	}
	if err := q.push(ctx, queueName, raw); err != nil {
		return "", err
	}
	return j.JID, nil
}

// EnqueueRaw pushes a verbatim job JSON record onto queue:<queue>,
// registering the queue if this is its first use. Used by retry and
// scheduler requeue paths that already hold an encoded job.
func (q *Queue) EnqueueRaw(ctx context.Context, queueName string, raw []byte) (string, error) {
	j, err := job.Decode(raw)
	if err != nil {
		return "", errors.DecodeError("failed to decode raw job for enqueue", err)
	}
	if err := q.push(ctx, queueName, raw); err != nil {
		return "", err
	}
	return j.JID, nil
}

func (q *Queue) push(ctx context.Context, queueName string, raw []byte) error {
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.keys.Queues(), queueName)
	pipe.RPush(ctx, q.keys.Queue(queueName), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.RedisUnavailable("failed to enqueue job", err)
	}
	return nil
}

// EnqueueAt schedules a job for a future enqueue time by ZADDing it onto
// the schedule sorted set with at's Unix timestamp as score.
func (q *Queue) EnqueueAt(ctx context.Context, queueName, class string, args []json.RawMessage, at time.Time) (string, error) {
	j := job.New(queueName, class, args)
	raw, err := j.Encode()
	if err != nil {
		return "", errors.DecodeError("failed to encode scheduled job", err)
	}
	err = q.client.ZAdd(ctx, q.keys.Schedule(), redis.Z{
		Score:  float64(at.Unix()),
		Member: raw,
	}).Err()
	if err != nil {
		return "", errors.RedisUnavailable("failed to schedule job", err)
	}
	return j.JID, nil
}

// EnqueueIn schedules a job delay after now; it is EnqueueAt(now+delay).
func (q *Queue) EnqueueIn(ctx context.Context, queueName, class string, args []json.RawMessage, delay time.Duration) (string, error) {
	return q.EnqueueAt(ctx, queueName, class, args, time.Now().Add(delay))
}

// Dequeue attempts an LPOP against each queue in order, returning the
// first non-empty result. The caller-supplied order is never rotated by
// the engine: priority across queues is entirely the caller's policy,
// and this call is not atomic across the queue list as a whole.
func (q *Queue) Dequeue(ctx context.Context, queues []string) ([]byte, error) {
	for _, queueName := range queues {
		raw, err := q.client.LPop(ctx, q.keys.Queue(queueName)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.RedisUnavailable(fmt.Sprintf("failed to dequeue from %s", queueName), err)
		}
		return raw, nil
	}
	return nil, nil
}

// FindJob scans queue:<queue> for the first element whose decoded jid
// matches, returning its raw JSON and its index. Returns NotFound if no
// element matches.
func (q *Queue) FindJob(ctx context.Context, queueName, jid string) ([]byte, int, error) {
	items, err := q.client.LRange(ctx, q.keys.Queue(queueName), 0, -1).Result()
	if err != nil {
		return nil, 0, errors.RedisUnavailable("failed to scan queue", err)
	}
	for i, raw := range items {
		j, err := job.Decode([]byte(raw))
		if err != nil {
			continue // malformed record: skip, never crash the scan
		}
		if j.JID == jid {
			return []byte(raw), i, nil
		}
	}
	return nil, 0, errors.NotFound(fmt.Sprintf("job %s not found in queue %s", jid, queueName))
}

// RemoveJob looks up jid via FindJob, then LREMs the exact raw record it
// found from the queue list.
func (q *Queue) RemoveJob(ctx context.Context, queueName, jid string) (bool, error) {
	raw, _, err := q.FindJob(ctx, queueName, jid)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	removed, err := q.client.LRem(ctx, q.keys.Queue(queueName), 1, raw).Result()
	if err != nil {
		return false, errors.RedisUnavailable("failed to remove job", err)
	}
	return removed > 0, nil
}

// QueueNames returns every queue ever enqueued to.
func (q *Queue) QueueNames(ctx context.Context) ([]string, error) {
	names, err := q.client.SMembers(ctx, q.keys.Queues()).Result()
	if err != nil {
		return nil, errors.RedisUnavailable("failed to list queue names", err)
	}
	return names, nil
}

// QueueSize returns the number of pending jobs in queue:<queue>.
func (q *Queue) QueueSize(ctx context.Context, queueName string) (int64, error) {
	size, err := q.client.LLen(ctx, q.keys.Queue(queueName)).Result()
	if err != nil {
		return 0, errors.RedisUnavailable("failed to measure queue depth", err)
	}
	return size, nil
}

// PromoteDue moves every schedule member whose score is <= now into its
// own queue:<name>, one at a time: ZREM first claims the member (if
// ZREM reports it already gone, another process claimed it first and we
// skip the push), then RPUSH delivers it. It returns the number of jobs
// promoted.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.keys.Schedule(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, errors.RedisUnavailable("failed to scan due schedule entries", err)
	}

	promoted := 0
	for _, raw := range due {
		removed, err := q.client.ZRem(ctx, q.keys.Schedule(), raw).Result()
		if err != nil {
			return promoted, errors.RedisUnavailable("failed to claim scheduled job", err)
		}
		if removed == 0 {
			continue // another process already claimed this member
		}
		j, err := job.Decode([]byte(raw))
		if err != nil {
			continue // malformed record: drop rather than wedge the schedule
		}
		if _, err := q.EnqueueRaw(ctx, j.Queue, []byte(raw)); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
