package scheduler

import (
	"encoding/json"
	"time"
)

// Schedule is a named recurring job: the cron-recurrence half of the
// scheduler domain stack (delayed-job promotion is handled directly by
// the queue engine's schedule sorted set and needs no registry entry).
type Schedule struct {
	// ID is a unique identifier for the schedule, also used as its Redis
	// state-hash key and lock key suffix.
	ID string

	// Cron expression (standard 5-field: minute hour day month weekday).
	// Examples:
	//   "0 * * * *"     - Every hour at minute 0
	//   "*/15 * * * *"  - Every 15 minutes
	//   "0 9 * * 1"     - Every Monday at 9:00 AM
	Cron string

	// Queue is the destination queue for the enqueued job.
	Queue string

	// Class is the registered job class to invoke.
	Class string

	// Args are the job's arguments, encoded exactly as the queue engine
	// expects them.
	Args []json.RawMessage

	// Timezone for cron evaluation (default: UTC). Must be a valid IANA
	// timezone (e.g., "America/New_York", "UTC").
	Timezone string

	// Enabled allows disabling a schedule without removing it.
	Enabled bool

	// Description is free-form text for logging/monitoring.
	Description string
}

// ScheduleState is the runtime state of a schedule, persisted to Redis so
// recurrence survives a process restart.
type ScheduleState struct {
	ID          string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	LastError   string
	LastSuccess time.Time
}
