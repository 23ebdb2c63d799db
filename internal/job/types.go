// Package job defines the wire format shared by every component that
// reads or writes a job record in Redis.
package job

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Job is the unit of work enqueued by a client and executed by a worker.
//
// Field names and types mirror the Sidekiq job format exactly so that
// external tooling built against that ecosystem can read queue contents
// produced by this engine without translation.
type Job struct {
	JID        string            `json:"jid"`
	Class      string            `json:"class"`
	Args       []json.RawMessage `json:"args"`
	Queue      string            `json:"queue"`
	EnqueuedAt float64           `json:"enqueued_at"`

	// Present only once a failure has been recorded against this jid.
	FailedAt   string `json:"failed_at,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
	ErrorMsg   string `json:"error_message,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// New builds a Job ready for enqueue: a fresh jid, the supplied class,
// args and target queue, and enqueued_at set to now.
func New(queue, class string, args []json.RawMessage) *Job {
	return &Job{
		JID:        NewJID(),
		Class:      class,
		Args:       args,
		Queue:      queue,
		EnqueuedAt: nowSeconds(),
	}
}

// NewJID returns a 24-hex-character job identifier drawn from a
// cryptographically strong source. 12 random bytes hex-encode to exactly
// 24 characters, matching the reference format bit for bit.
func NewJID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// there's no sane degraded mode for job identity in that case.
		panic(fmt.Sprintf("job: failed to generate jid: %v", err))
	}
	return hex.EncodeToString(buf)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// MarkFailed stamps the job with failure metadata in place. failedAt is
// formatted in local time per the wire format; retryCount is supplied by
// the caller since only the stats engine knows how many times this jid
// has already failed.
func (j *Job) MarkFailed(errClass, errMsg string, retryCount int) {
	j.FailedAt = time.Now().Format(time.RFC3339)
	j.ErrorClass = errClass
	j.ErrorMsg = errMsg
	j.RetryCount = retryCount
}

// Encode serializes the job to its canonical JSON wire representation.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a job's canonical JSON wire representation.
func Decode(raw []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("job: decode failed: %w", err)
	}
	return &j, nil
}
