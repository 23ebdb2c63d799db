package job

import (
	"encoding/json"
	"time"
)

// ResultStatus is the terminal outcome recorded against a jid in the
// result backend. It is deliberately distinct from the failed-job
// bookkeeping the stats engine keeps; a job can be recorded as
// processed/failed for accounting purposes while also (or instead of)
// having its return value stored here.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// Result is the outcome of one executed job, as stored by the optional
// result backend and handed back to callers of Wait/Status.
type Result struct {
	JID         string          `json:"jid"`
	Status      ResultStatus    `json:"status"`
	Value       json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    time.Duration   `json:"duration"`
}

// IsSuccess reports whether the job completed without error.
func (r *Result) IsSuccess() bool {
	return r.Status == ResultCompleted
}

// IsFailed reports whether the job's handler returned an error.
func (r *Result) IsFailed() bool {
	return r.Status == ResultFailed
}

// Unmarshal decodes the stored return value into dest. It returns a
// ResultError wrapping the handler's error message if the job failed,
// and does nothing if the job succeeded with no return value.
func (r *Result) Unmarshal(dest interface{}) error {
	if r.IsFailed() {
		return &ResultError{Message: r.Error}
	}
	if len(r.Value) == 0 {
		return nil
	}
	return json.Unmarshal(r.Value, dest)
}

// ResultError reports a job failure surfaced through the result backend.
type ResultError struct {
	Message string
}

func (e *ResultError) Error() string {
	return e.Message
}
