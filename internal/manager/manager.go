// Package manager implements the dispatcher loop: it polls the queue
// engine on a timer, obeys a concurrency cap, spawns workers, receives
// their outcomes, and forwards those outcomes to the stats engine. It is
// the single writer of its own busy-worker count, the same cooperative,
// one-goroutine-owns-the-state discipline the teacher's worker pool used
// for active-worker bookkeeping.
package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sideport/exqgo/internal/logger"
	"github.com/sideport/exqgo/internal/queue"
	"github.com/sideport/exqgo/internal/result"
	"github.com/sideport/exqgo/internal/stats"
	"github.com/sideport/exqgo/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Config bounds a manager's poll cycle.
type Config struct {
	// Host identifies this process in the process table and in worker ids.
	Host string
	// Queues is the ordered list of queue names dequeued from every tick.
	Queues []string
	// Concurrency is the maximum number of in-flight workers.
	Concurrency int
	// PollTimeout is how long the loop sleeps when busy or the queues are
	// empty, before retrying.
	PollTimeout time.Duration
	// JobTimeout bounds a single job's handler execution. Zero disables
	// the ceiling and lets the handler run to completion.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 50 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 25
	}
	if len(c.Queues) == 0 {
		c.Queues = []string{"default"}
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	return c
}

// Manager is the dispatcher loop. It owns the shared Redis connection and
// closes it on Stop.
type Manager struct {
	client   *redis.Client
	queue    *queue.Queue
	stats    *stats.Stats
	registry *worker.Registry
	results  result.Backend
	log      logger.Logger
	cfg      Config

	outcomes chan worker.Outcome
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New wires a manager against an already-connected Redis client. results
// may be nil, which disables per-job result storage.
func New(client *redis.Client, q *queue.Queue, st *stats.Stats, registry *worker.Registry, results result.Backend, log logger.Logger, cfg Config) *Manager {
	return &Manager{
		client:   client,
		queue:    q,
		stats:    st,
		registry: registry,
		results:  results,
		log:      log.WithComponent(logger.ComponentManager),
		cfg:      cfg.withDefaults(),
		outcomes: make(chan worker.Outcome, cfg.withDefaults().Concurrency),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the poll loop in its own goroutine. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("starting manager", "queues", m.cfg.Queues, "concurrency", m.cfg.Concurrency, "poll_timeout", m.cfg.PollTimeout)
	go m.run(ctx)
}

// Stop halts the poll loop and closes the Redis connection. It does not
// wait for in-flight workers: they will finish on their own and attempt
// to report to a manager that may already be gone, in which case their
// outcome is simply dropped. This mirrors the accepted best-effort
// counters-on-shutdown semantics of the wire-compatible reference.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		if m.client != nil {
			if err := m.client.Close(); err != nil {
				m.log.Error("failed to close redis connection", "error", err)
			}
		}
	})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)
	busy := 0

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case outcome := <-m.outcomes:
			busy--
			m.handleOutcome(ctx, outcome)
			continue
		default:
		}

		if busy >= m.cfg.Concurrency {
			if !m.waitTick(ctx, &busy) {
				return
			}
			continue
		}

		raw, err := m.queue.Dequeue(ctx, m.cfg.Queues)
		if err != nil {
			m.log.Error("dequeue failed", "error", err)
			if !m.waitTick(ctx, &busy) {
				return
			}
			continue
		}
		if raw == nil {
			if !m.waitTick(ctx, &busy) {
				return
			}
			continue
		}

		busy++
		id := newWorkerID(m.cfg.Host)
		m.wg.Add(1)
		go m.spawnWorker(ctx, id, raw)
	}
}

// waitTick blocks for at most poll_timeout_ms, returning early to absorb
// an outcome that arrives in the meantime. It reports whether the loop
// should keep running.
func (m *Manager) waitTick(ctx context.Context, busy *int) bool {
	timer := time.NewTimer(m.cfg.PollTimeout)
	defer timer.Stop()
	select {
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	case outcome := <-m.outcomes:
		*busy--
		m.handleOutcome(ctx, outcome)
		return true
	case <-timer.C:
		return true
	}
}

func (m *Manager) spawnWorker(ctx context.Context, id string, raw []byte) {
	defer m.wg.Done()

	jobCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, m.cfg.JobTimeout)
		defer cancel()
	}

	outcome := worker.Run(jobCtx, id, m.cfg.Host, raw, m.registry, m.stats, m.results, m.log)
	select {
	case m.outcomes <- outcome:
	case <-m.stopCh:
	}
}

// handleOutcome forwards a worker's terminal state to the stats engine.
// Skipped outcomes (malformed job records that never reached Running)
// are dropped without touching the counters.
func (m *Manager) handleOutcome(ctx context.Context, outcome worker.Outcome) {
	if outcome.Skipped {
		return
	}
	var err error
	if outcome.Success {
		err = m.stats.RecordProcessed(ctx)
	} else {
		err = m.stats.RecordFailure(ctx, outcome.Err, outcome.JobRaw)
	}
	if err != nil {
		m.log.Error("failed to record job outcome", "worker_id", outcome.WorkerID, "jid", outcome.JID, "error", err)
	}
}

// Enqueue, EnqueueIn, EnqueueAt, FindJob and FindFailed are direct
// passthroughs to the queue and stats engines. Redis's own per-command
// atomicity gives callers the same safety the actor-style request/reply
// description protects, without routing every external call through the
// dispatch loop.
func (m *Manager) Enqueue(ctx context.Context, queueName, class string, args []json.RawMessage) (string, error) {
	return m.queue.Enqueue(ctx, queueName, class, args)
}

func (m *Manager) EnqueueIn(ctx context.Context, queueName, class string, args []json.RawMessage, delay time.Duration) (string, error) {
	return m.queue.EnqueueIn(ctx, queueName, class, args, delay)
}

func (m *Manager) EnqueueAt(ctx context.Context, queueName, class string, args []json.RawMessage, at time.Time) (string, error) {
	return m.queue.EnqueueAt(ctx, queueName, class, args, at)
}

func (m *Manager) FindJob(ctx context.Context, queueName, jid string) ([]byte, int, error) {
	return m.queue.FindJob(ctx, queueName, jid)
}

func (m *Manager) FindFailed(ctx context.Context, jid string) ([]byte, int, error) {
	return m.stats.FindFailed(ctx, jid)
}

// Busy reports the current size of the process table, for health checks.
func (m *Manager) Busy(ctx context.Context) (int64, error) {
	return m.stats.Busy(ctx)
}

func newWorkerID(host string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s:fallback", host)
	}
	return fmt.Sprintf("%s:%s", host, hex.EncodeToString(buf))
}
