// Package stats implements the Redis-backed stats engine: processed and
// failed counters, realtime per-second buckets, the failed-job list, and
// the live process table shared by every manager in the namespace.
package stats

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

// realtimeTTL bounds the cardinality of the per-second buckets KEYS scans
// over: a bucket disappears 120s after its last increment.
const realtimeTTL = 120 * time.Second

// Stats is the Redis-backed stats engine for one namespace.
type Stats struct {
	client *redis.Client
	keys   keys.Builder
}

// New wraps an existing Redis client with the stats engine's key layout.
func New(client *redis.Client, namespace string) *Stats {
	return &Stats{client: client, keys: keys.New(namespace)}
}

// process is the JSON shape stored in the processes set, one entry per
// currently executing worker across the fleet.
type process struct {
	PID       string          `json:"pid"`
	Host      string          `json:"host"`
	Job       json.RawMessage `json:"job"`
	StartedAt string          `json:"started_at"`
}

// Bucket is one realtime or daily counter label paired with its count.
type Bucket struct {
	Label string
	Count int64
}

// AddProcess registers a worker in the process table before its handler
// runs. workerID is the opaque per-worker pid string (e.g. "<host>:<uuid>").
func (s *Stats) AddProcess(ctx context.Context, workerID, host string, jobRaw []byte, startedAt time.Time) error {
	p := process{
		PID:       workerID,
		Host:      host,
		Job:       json.RawMessage(jobRaw),
		StartedAt: startedAt.Format(time.RFC3339),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.DecodeError("failed to encode process entry", err)
	}
	if err := s.client.SAdd(ctx, s.keys.Processes(), raw).Err(); err != nil {
		return errors.RedisUnavailable("failed to register process", err)
	}
	return nil
}

// RemoveProcess finds the first processes entry whose (pid, host) match
// and removes it. Returns NotFound if no such entry exists.
func (s *Stats) RemoveProcess(ctx context.Context, workerID, host string) error {
	members, err := s.client.SMembers(ctx, s.keys.Processes()).Result()
	if err != nil {
		return errors.RedisUnavailable("failed to scan process table", err)
	}
	for _, raw := range members {
		var p process
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue // malformed entry: skip, never crash the scan
		}
		if p.PID == workerID && p.Host == host {
			if err := s.client.SRem(ctx, s.keys.Processes(), raw).Err(); err != nil {
				return errors.RedisUnavailable("failed to remove process entry", err)
			}
			return nil
		}
	}
	return errors.NotFound(fmt.Sprintf("process %s@%s not found", workerID, host))
}

// RecordProcessed increments the all-time, daily and realtime processed
// counters. Callers must invoke this at most once per job outcome.
func (s *Stats) RecordProcessed(ctx context.Context) error {
	now := time.Now()
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, s.keys.StatProcessed())
	rtKey := s.keys.StatProcessedRT(now)
	pipe.Incr(ctx, rtKey)
	pipe.Expire(ctx, rtKey, realtimeTTL)
	pipe.Incr(ctx, s.keys.StatProcessedDaily(now))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.RedisUnavailable("failed to record processed outcome", err)
	}
	return nil
}

// RecordFailure increments the failed counters and appends a
// Sidekiq-compatible failure record (failed_at, error_class,
// error_message, and the original job's identifying fields) to the
// failed list.
func (s *Stats) RecordFailure(ctx context.Context, errMsg string, jobRaw []byte) error {
	j, err := job.Decode(jobRaw)
	if err != nil {
		return errors.DecodeError("failed to decode job for failure record", err)
	}
	j.MarkFailed("GenericError", errMsg, j.RetryCount+1)
	failedRaw, err := j.Encode()
	if err != nil {
		return errors.DecodeError("failed to encode failure record", err)
	}

	now := time.Now()
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, s.keys.StatFailed())
	rtKey := s.keys.StatFailedRT(now)
	pipe.Incr(ctx, rtKey)
	pipe.Expire(ctx, rtKey, realtimeTTL)
	pipe.Incr(ctx, s.keys.StatFailedDaily(now))
	pipe.RPush(ctx, s.keys.Failed(), failedRaw)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.RedisUnavailable("failed to record failure outcome", err)
	}
	return nil
}

// FindFailed scans the failed list for the first record whose jid
// matches, returning its raw JSON and index.
func (s *Stats) FindFailed(ctx context.Context, jid string) ([]byte, int, error) {
	items, err := s.client.LRange(ctx, s.keys.Failed(), 0, -1).Result()
	if err != nil {
		return nil, 0, errors.RedisUnavailable("failed to scan failed list", err)
	}
	for i, raw := range items {
		j, err := job.Decode([]byte(raw))
		if err != nil {
			continue
		}
		if j.JID == jid {
			return []byte(raw), i, nil
		}
	}
	return nil, 0, errors.NotFound(fmt.Sprintf("failed job %s not found", jid))
}

// RemoveFailed decrements stat:failed and then LREMs the matching entry.
// The counter decrements even if the subsequent removal finds no match
// — this mirrors the wire-compatible reference behavior and can drive
// the counter negative under concurrent removals of the same jid; see
// SPEC_FULL.md §9 for the accepted-quirk rationale.
func (s *Stats) RemoveFailed(ctx context.Context, jid string) error {
	if err := s.client.Decr(ctx, s.keys.StatFailed()).Err(); err != nil {
		return errors.RedisUnavailable("failed to decrement failed counter", err)
	}
	raw, _, err := s.FindFailed(ctx, jid)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) {
			return nil
		}
		return err
	}
	if err := s.client.LRem(ctx, s.keys.Failed(), 1, raw).Err(); err != nil {
		return errors.RedisUnavailable("failed to remove failed entry", err)
	}
	return nil
}

// ClearFailed resets stat:failed to zero and deletes the failed list.
func (s *Stats) ClearFailed(ctx context.Context) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.keys.StatFailed(), 0, 0)
	pipe.Del(ctx, s.keys.Failed())
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.RedisUnavailable("failed to clear failed state", err)
	}
	return nil
}

// ClearProcesses deletes the entire process table.
func (s *Stats) ClearProcesses(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys.Processes()).Err(); err != nil {
		return errors.RedisUnavailable("failed to clear process table", err)
	}
	return nil
}

// RealtimeStats enumerates the live per-second processed and failed
// buckets. KEYS is acceptable here because the TTL bounds cardinality to
// at most 120 entries per side.
func (s *Stats) RealtimeStats(ctx context.Context) (processed, failed []Bucket, err error) {
	processed, err = s.scanRealtime(ctx, s.keys.ProcessedRTPrefix(), s.keys.StripProcessedRT)
	if err != nil {
		return nil, nil, err
	}
	failed, err = s.scanRealtime(ctx, s.keys.FailedRTPrefix(), s.keys.StripFailedRT)
	if err != nil {
		return nil, nil, err
	}
	return processed, failed, nil
}

func (s *Stats) scanRealtime(ctx context.Context, prefix string, strip func(string) string) ([]Bucket, error) {
	matched, err := s.client.Keys(ctx, prefix).Result()
	if err != nil {
		return nil, errors.RedisUnavailable("failed to enumerate realtime buckets", err)
	}
	buckets := make([]Bucket, 0, len(matched))
	for _, key := range matched {
		count, err := s.client.Get(ctx, key).Int64()
		if err != nil {
			if err == redis.Nil {
				continue // bucket expired between KEYS and GET
			}
			return nil, errors.RedisUnavailable("failed to read realtime bucket", err)
		}
		buckets = append(buckets, Bucket{Label: strip(key), Count: count})
	}
	return buckets, nil
}

// Busy returns the number of currently executing workers across the
// fleet (SCARD processes).
func (s *Stats) Busy(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.keys.Processes()).Result()
	if err != nil {
		return 0, errors.RedisUnavailable("failed to count busy workers", err)
	}
	return n, nil
}

// Processes returns every raw process-table entry currently registered.
func (s *Stats) Processes(ctx context.Context) ([][]byte, error) {
	members, err := s.client.SMembers(ctx, s.keys.Processes()).Result()
	if err != nil {
		return nil, errors.RedisUnavailable("failed to list processes", err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}
