// Package scheduler layers delayed-job promotion and cron recurrence on
// top of the core queue engine. Neither changes the engine's key layout
// or wire format; both only ever call enqueue-equivalent operations.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sideport/exqgo/internal/keys"
	"github.com/sideport/exqgo/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Queue is the slice of the queue engine the scheduler needs.
type Queue interface {
	Enqueue(ctx context.Context, queueName, class string, args []json.RawMessage) (string, error)
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// CronScheduler ticks delayed-job promotion and cron recurrence on an
// interval, guarding both with a short-lived distributed lock so that
// only one process in a shared namespace acts per tick.
type CronScheduler struct {
	registry *Registry
	queue    Queue
	client   *redis.Client
	keys     keys.Builder
	interval time.Duration
	lockTTL  time.Duration
	log      logger.Logger
}

// NewCronScheduler wires a scheduler against an already-connected Redis
// client shared with the queue engine.
func NewCronScheduler(registry *Registry, q Queue, client *redis.Client, namespace string, interval time.Duration, log logger.Logger) *CronScheduler {
	return &CronScheduler{
		registry: registry,
		queue:    q,
		client:   client,
		keys:     keys.New(namespace),
		interval: interval,
		lockTTL:  60 * time.Second,
		log:      log.WithComponent(logger.ComponentScheduler),
	}
}

// SetLockTTL overrides the default 60s lock TTL, mainly for tests.
func (cs *CronScheduler) SetLockTTL(ttl time.Duration) {
	cs.lockTTL = ttl
}

// Start runs the tick loop until ctx is cancelled.
func (cs *CronScheduler) Start(ctx context.Context) {
	cs.log.Info("cron scheduler started", "interval", cs.interval, "schedules", cs.registry.Count())

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cs.log.Info("cron scheduler stopping")
			return
		case <-ticker.C:
			cs.Tick(ctx)
		}
	}
}

// Tick runs one promotion-and-recurrence pass. Exported so tests and a
// scheduler-only process can drive it without a ticker.
func (cs *CronScheduler) Tick(ctx context.Context) {
	cs.promoteDelayed(ctx)

	now := time.Now()
	for _, schedule := range cs.registry.List() {
		if !schedule.Enabled {
			continue
		}
		if cs.isDue(ctx, schedule, now) {
			cs.executeSchedule(ctx, schedule, now)
		}
	}
}

func (cs *CronScheduler) promoteDelayed(ctx context.Context) {
	lock, err := AcquireLock(ctx, cs.client, cs.keys.Lock("schedule-promote"), cs.lockTTL)
	if err != nil {
		cs.log.Error("failed to acquire promotion lock", "error", err)
		return
	}
	if lock == nil {
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			cs.log.Error("failed to release promotion lock", "error", err)
		}
	}()

	promoted, err := cs.queue.PromoteDue(ctx, time.Now())
	if err != nil {
		cs.log.Error("failed to promote delayed jobs", "error", err)
		return
	}
	if promoted > 0 {
		cs.log.Debug("promoted delayed jobs", "count", promoted)
	}
}

func (cs *CronScheduler) isDue(ctx context.Context, schedule *Schedule, now time.Time) bool {
	state, err := cs.getState(ctx, schedule.ID)
	if err != nil {
		cs.log.Error("failed to get schedule state", "schedule_id", schedule.ID, "error", err)
		return false
	}

	nextRun, err := cs.registry.NextRun(schedule, state.LastRun)
	if err != nil {
		cs.log.Error("failed to calculate next run", "schedule_id", schedule.ID, "error", err)
		return false
	}

	return now.After(nextRun.Add(-1*time.Second)) || now.Equal(nextRun)
}

func (cs *CronScheduler) executeSchedule(ctx context.Context, schedule *Schedule, now time.Time) {
	lock, err := AcquireLock(ctx, cs.client, cs.keys.Lock(schedule.ID), cs.lockTTL)
	if err != nil {
		cs.log.Error("failed to acquire schedule lock", "schedule_id", schedule.ID, "error", err)
		return
	}
	if lock == nil {
		cs.log.Debug("schedule already locked by another instance", "schedule_id", schedule.ID)
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			cs.log.Error("failed to release schedule lock", "schedule_id", schedule.ID, "error", err)
		}
	}()

	jid, err := cs.queue.Enqueue(ctx, schedule.Queue, schedule.Class, schedule.Args)
	if err != nil {
		cs.log.Error("failed to enqueue scheduled job", "schedule_id", schedule.ID, "class", schedule.Class, "error", err)
		if updateErr := cs.updateState(ctx, schedule.ID, &ScheduleState{ID: schedule.ID, LastRun: now, LastError: err.Error()}); updateErr != nil {
			cs.log.Warn("failed to update schedule state", "schedule_id", schedule.ID, "error", updateErr)
		}
		return
	}

	cs.log.Info("scheduled job enqueued", "schedule_id", schedule.ID, "class", schedule.Class, "jid", jid, "queue", schedule.Queue)

	nextRun, err := cs.registry.NextRun(schedule, now)
	if err != nil {
		cs.log.Error("failed to calculate next run time", "schedule_id", schedule.ID, "error", err)
		nextRun = time.Time{}
	}

	runCount := cs.incrementRunCount(ctx, schedule.ID)
	if updateErr := cs.updateState(ctx, schedule.ID, &ScheduleState{
		ID:          schedule.ID,
		LastRun:     now,
		NextRun:     nextRun,
		LastSuccess: now,
		RunCount:    runCount,
	}); updateErr != nil {
		cs.log.Warn("failed to update schedule state", "schedule_id", schedule.ID, "error", updateErr)
	}
}

func (cs *CronScheduler) getState(ctx context.Context, scheduleID string) (*ScheduleState, error) {
	key := cs.keys.Cron(scheduleID)

	result, err := cs.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule state: %w", err)
	}
	if len(result) == 0 {
		return &ScheduleState{ID: scheduleID}, nil
	}

	state := &ScheduleState{ID: scheduleID}
	if lastRun, ok := result["last_run"]; ok && lastRun != "" {
		if parsed, err := time.Parse(time.RFC3339, lastRun); err == nil {
			state.LastRun = parsed
		}
	}
	if nextRun, ok := result["next_run"]; ok && nextRun != "" {
		if parsed, err := time.Parse(time.RFC3339, nextRun); err == nil {
			state.NextRun = parsed
		}
	}
	if lastSuccess, ok := result["last_success"]; ok && lastSuccess != "" {
		if parsed, err := time.Parse(time.RFC3339, lastSuccess); err == nil {
			state.LastSuccess = parsed
		}
	}
	if lastError, ok := result["last_error"]; ok {
		state.LastError = lastError
	}
	if runCount, ok := result["run_count"]; ok && runCount != "" {
		var count int64
		if _, err := fmt.Sscanf(runCount, "%d", &count); err == nil {
			state.RunCount = count
		}
	}
	return state, nil
}

func (cs *CronScheduler) updateState(ctx context.Context, scheduleID string, state *ScheduleState) error {
	key := cs.keys.Cron(scheduleID)

	fields := map[string]interface{}{
		"last_run": state.LastRun.Format(time.RFC3339),
	}
	if !state.NextRun.IsZero() {
		fields["next_run"] = state.NextRun.Format(time.RFC3339)
	}
	if !state.LastSuccess.IsZero() {
		fields["last_success"] = state.LastSuccess.Format(time.RFC3339)
	}

	if state.LastError != "" {
		fields["last_error"] = state.LastError
	} else {
		cs.client.HDel(ctx, key, "last_error")
	}

	return cs.client.HSet(ctx, key, fields).Err()
}

func (cs *CronScheduler) incrementRunCount(ctx context.Context, scheduleID string) int64 {
	count, err := cs.client.HIncrBy(ctx, cs.keys.Cron(scheduleID), "run_count", 1).Result()
	if err != nil {
		cs.log.Error("failed to increment run count", "schedule_id", scheduleID, "error", err)
		return 0
	}
	return count
}

// GetState exposes a schedule's persisted state for monitoring.
func (cs *CronScheduler) GetState(ctx context.Context, scheduleID string) (*ScheduleState, error) {
	return cs.getState(ctx, scheduleID)
}
