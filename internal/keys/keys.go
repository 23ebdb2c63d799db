// Package keys builds the Redis key names used by every other component,
// keeping the namespacing scheme in exactly one place.
//
// The key-building pattern (pre-grow a strings.Builder, write the
// namespace once, append the kind-specific suffix) is carried over from
// the teacher's queue key helpers, generalized from a fixed set of
// priority queues to arbitrary named queues and the additional key
// families the stats engine and scheduler need.
package keys

import (
	"strings"
	"time"
)

// Default is the namespace used when none is configured.
const Default = "exq"

// Builder produces namespaced Redis key names.
type Builder struct {
	namespace string
}

// New returns a Builder for the given namespace.
func New(namespace string) Builder {
	if namespace == "" {
		namespace = Default
	}
	return Builder{namespace: namespace}
}

func (b Builder) build(parts ...string) string {
	n := len(b.namespace)
	for _, p := range parts {
		n += 1 + len(p)
	}
	var sb strings.Builder
	sb.Grow(n)
	sb.WriteString(b.namespace)
	for _, p := range parts {
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	return sb.String()
}

// Queues is the set of every queue name ever enqueued to.
func (b Builder) Queues() string { return b.build("queues") }

// Queue is the FIFO list backing one named queue.
func (b Builder) Queue(name string) string { return b.build("queue", name) }

// Failed is the list of failed-job records, newest at the tail.
func (b Builder) Failed() string { return b.build("failed") }

// Processes is the set of currently executing workers across the fleet.
func (b Builder) Processes() string { return b.build("processes") }

// Schedule is the sorted set of jobs awaiting a future enqueue time.
func (b Builder) Schedule() string { return b.build("schedule") }

// Result is the hash holding the stored outcome of one jid.
func (b Builder) Result(jid string) string { return b.build("result", jid) }

// ResultNotify is the pub/sub channel published to when a result is stored.
func (b Builder) ResultNotify(jid string) string { return b.build("result", "notify", jid) }

// Lock is a distributed-lock key scoped to this namespace.
func (b Builder) Lock(name string) string { return b.build("lock", name) }

// Cron is the hash holding one cron schedule's run state.
func (b Builder) Cron(id string) string { return b.build("cron", id) }

// StatProcessed is the all-time processed counter.
func (b Builder) StatProcessed() string { return b.build("stat", "processed") }

// StatFailed is the all-time failed counter.
func (b Builder) StatFailed() string { return b.build("stat", "failed") }

// StatProcessedDaily is the persistent per-day processed counter.
func (b Builder) StatProcessedDaily(day time.Time) string {
	return b.build("stat", "processed", day.UTC().Format("2006-01-02"))
}

// StatFailedDaily is the persistent per-day failed counter.
func (b Builder) StatFailedDaily(day time.Time) string {
	return b.build("stat", "failed", day.UTC().Format("2006-01-02"))
}

// RealtimeBucketFormat is the exact time layout realtime bucket labels use.
const RealtimeBucketFormat = "2006-01-02 15:04:05 -0700"

// StatProcessedRT is the 120s-TTL per-second processed bucket.
func (b Builder) StatProcessedRT(at time.Time) string {
	return b.build("stat", "processed_rt", at.UTC().Format(RealtimeBucketFormat))
}

// StatFailedRT is the 120s-TTL per-second failed bucket.
func (b Builder) StatFailedRT(at time.Time) string {
	return b.build("stat", "failed_rt", at.UTC().Format(RealtimeBucketFormat))
}

// ProcessedRTPrefix is the KEYS glob used by RealtimeStats to enumerate
// live processed buckets.
func (b Builder) ProcessedRTPrefix() string { return b.build("stat", "processed_rt", "*") }

// FailedRTPrefix is the KEYS glob used by RealtimeStats to enumerate
// live failed buckets.
func (b Builder) FailedRTPrefix() string { return b.build("stat", "failed_rt", "*") }

// StripProcessedRT removes the processed_rt prefix from a key returned by
// KEYS, leaving just the bucket's time label.
func (b Builder) StripProcessedRT(key string) string {
	return strings.TrimPrefix(key, b.build("stat", "processed_rt")+":")
}

// StripFailedRT removes the failed_rt prefix from a key returned by KEYS,
// leaving just the bucket's time label.
func (b Builder) StripFailedRT(key string) string {
	return strings.TrimPrefix(key, b.build("stat", "failed_rt")+":")
}
