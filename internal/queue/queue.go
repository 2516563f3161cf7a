// Package queue provides a durable, ordered, at-least-once delivery queue
// for opaque job payloads. Jobs move queued -> processing -> acked|failed;
// a dequeued job that is never acked becomes eligible for redelivery after
// a visibility timeout via ReclaimStale.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusAcked      = "acked"
	StatusFailed     = "failed"
)

// ErrMalformedJob is returned by Dequeue when a stored job envelope cannot
// be decoded. It is distinct from an empty queue (nil, nil) so callers can
// treat the payload as poison instead of spin-retrying.
var ErrMalformedJob = errors.New("queue: malformed job envelope")

// Job is the queue envelope around an opaque payload. The payload is raw
// bytes, base64 on the wire, so the queue carries anything the producer hands
// it; whether the bytes parse is the consumer's concern.
type Job struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Payload    []byte    `json:"payload"`
	Attempts   int       `json:"attempts"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
}

// encodeJob and decodeJob are the envelope codec shared by every Queue
// implementation, so a stored envelope is portable between them.
func encodeJob(job *Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job envelope: %w", err)
	}
	return data, nil
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return &job, nil
}

// Stats is a point-in-time snapshot of queue state. Acked and Failed are
// monotonic counters; Queued and Processing are current depths.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Acked      int64 `json:"acked"`
	Failed     int64 `json:"failed"`
}

// Queue is the at-least-once delivery contract. Implementations must make
// the dequeue transition atomic so two consumers never receive the same job.
type Queue interface {
	// Enqueue appends a job to the tail and returns it. A storage failure
	// surfaces as an error; payloads are never silently dropped.
	Enqueue(ctx context.Context, payload []byte) (*Job, error)

	// Dequeue pops the oldest job, increments its attempt count and parks it
	// in the processing set. Returns (nil, nil) when the queue is empty.
	Dequeue(ctx context.Context) (*Job, error)

	// Ack removes a processing job and bumps the success counter.
	// Acking an unknown or already-acked id is a no-op.
	Ack(ctx context.Context, id string) error

	// Fail marks a processing job failed and records the reason. The record
	// is retained for inspection. Failing an unknown id is a no-op.
	Fail(ctx context.Context, id string, reason string) error

	// Stats reports current depths and lifetime counters.
	Stats(ctx context.Context) (Stats, error)

	// ReclaimStale requeues processing jobs that have been in flight longer
	// than the visibility timeout and reports how many were requeued.
	ReclaimStale(ctx context.Context, visibility time.Duration) (int, error)
}
