package worker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sideport/exqgo/internal/errors"
	"github.com/sideport/exqgo/internal/job"
	"github.com/sideport/exqgo/internal/logger"
	"github.com/sideport/exqgo/internal/result"
)

// ProcessTable is the slice of the stats engine a worker needs: register
// itself before running user code, and remove itself once it has an
// outcome to report. Declared here rather than imported concretely so
// worker tests can supply a fake without standing up Redis.
type ProcessTable interface {
	AddProcess(ctx context.Context, workerID, host string, jobRaw []byte, startedAt time.Time) error
	RemoveProcess(ctx context.Context, workerID, host string) error
}

// Outcome is what a worker reports back to its manager once it reaches
// the Reporting state. Skipped is set for a record so malformed it never
// reached Running — the manager should not forward it to the stats
// engine at all.
type Outcome struct {
	WorkerID string
	JID      string
	Queue    string
	Success  bool
	Err      string
	JobRaw   []byte
	Skipped  bool
}

// Run drives one job through Starting -> Running -> Reporting ->
// Terminated and returns its outcome. host identifies this process in
// the process table (entries are matched on the (pid, host) pair); id is this
// worker's opaque per-attempt identifier.
func Run(ctx context.Context, id, host string, raw []byte, registry *Registry, procs ProcessTable, results result.Backend, log logger.Logger) Outcome {
	wlog := log.WithComponent(logger.ComponentWorker)

	j, err := job.Decode(raw)
	if err != nil {
		wlog.Warn("dropping malformed job record", "worker_id", id, "error", err)
		return Outcome{WorkerID: id, Skipped: true}
	}

	startedAt := time.Now()
	if err := procs.AddProcess(ctx, id, host, raw, startedAt); err != nil {
		wlog.Error("failed to register process table entry", "worker_id", id, "jid", j.JID, "error", err)
	}

	outcome := runHandler(ctx, id, j, registry, wlog)

	if err := procs.RemoveProcess(ctx, id, host); err != nil {
		wlog.Error("failed to remove process table entry", "worker_id", id, "jid", j.JID, "error", err)
	}

	if results != nil {
		storeResult(ctx, j, outcome, startedAt, results, wlog)
	}

	return outcome
}

func runHandler(ctx context.Context, id string, j *job.Job, registry *Registry, wlog logger.Logger) (outcome Outcome) {
	outcome = Outcome{WorkerID: id, JID: j.JID, Queue: j.Queue}

	handler, ok := registry.Get(j.Class)
	if !ok {
		outcome.Err = errors.ClassNotFound(j.Class).Error()
		raw, encErr := j.Encode()
		if encErr == nil {
			outcome.JobRaw = raw
		}
		return outcome
	}

	defer func() {
		if r := recover(); r != nil {
			panicErr := &errors.PanicError{Value: r, Stacktrace: string(debug.Stack())}
			wlog.Error("job handler panicked", "worker_id", id, "jid", j.JID, "class", j.Class,
				"panic", panicErr.Value, "stack", panicErr.Stacktrace)
			outcome.Success = false
			outcome.Err = errors.HandlerError(errors.FormatPanicForLog(panicErr)).Error()
			raw, encErr := j.Encode()
			if encErr == nil {
				outcome.JobRaw = raw
			}
		}
	}()

	if err := handler(ctx, j.Args); err != nil {
		outcome.Success = false
		outcome.Err = errors.HandlerError(err.Error()).Error()
		raw, encErr := j.Encode()
		if encErr == nil {
			outcome.JobRaw = raw
		}
		return outcome
	}

	outcome.Success = true
	return outcome
}

func storeResult(ctx context.Context, j *job.Job, outcome Outcome, startedAt time.Time, results result.Backend, wlog logger.Logger) {
	res := &job.Result{
		JID:         j.JID,
		CompletedAt: time.Now(),
		Duration:    time.Since(startedAt),
	}
	if outcome.Success {
		res.Status = job.ResultCompleted
	} else {
		res.Status = job.ResultFailed
		res.Error = outcome.Err
	}
	if err := results.StoreResult(ctx, res); err != nil {
		wlog.Error("failed to store job result", "jid", j.JID, "error", err)
	}
}
