// Package result implements the optional per-job result backend: storing
// a job's terminal outcome independently of the stats engine's
// processed/failed bookkeeping.
package result

import (
	"context"
	"time"

	"github.com/sideport/exqgo/internal/job"
)

// Backend stores and retrieves the terminal outcome of individual jobs.
type Backend interface {
	// StoreResult persists r under its jid and publishes a ready
	// notification for any in-flight WaitForResult callers.
	StoreResult(ctx context.Context, r *job.Result) error

	// GetResult returns the stored result for jid, or nil if no result
	// has been stored yet (or it already expired).
	GetResult(ctx context.Context, jid string) (*job.Result, error)

	// WaitForResult returns the result for jid, blocking until one is
	// published or timeout elapses. Returns nil, nil on timeout.
	WaitForResult(ctx context.Context, jid string, timeout time.Duration) (*job.Result, error)

	// DeleteResult removes a stored result. Not an error if absent.
	DeleteResult(ctx context.Context, jid string) error

	// Close releases any connections the backend owns.
	Close() error
}
