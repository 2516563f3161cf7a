package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type procRecord struct {
	job        *Job
	dequeuedAt time.Time
}

// Memory is an in-process Queue backed by an ordered slice and a processing
// map. It is the implementation used in tests and single-node development.
// Jobs are stored as encoded envelopes, the same codec the durable
// implementation uses on the wire.
type Memory struct {
	mu         sync.Mutex
	queued     [][]byte
	processing map[string]*procRecord
	acked      int64
	failed     int64

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		processing: make(map[string]*procRecord),
		now:        time.Now,
	}
}

func (m *Memory) Enqueue(ctx context.Context, payload []byte) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		CreatedAt: m.now().UTC(),
		Payload:   append([]byte(nil), payload...),
		Attempts:  0,
		Status:    StatusQueued,
	}

	data, err := encodeJob(job)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.queued = append(m.queued, data)
	m.mu.Unlock()

	jobsEnqueued.Inc()
	return job, nil
}

func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queued) == 0 {
		return nil, nil
	}

	raw := m.queued[0]
	m.queued = m.queued[1:]

	job, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}

	job.Attempts++
	job.Status = StatusProcessing
	m.processing[job.ID] = &procRecord{job: job, dequeuedAt: m.now()}

	out := *job
	return &out, nil
}

func (m *Memory) Ack(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.processing[id]
	if !ok || rec.job.Status != StatusProcessing {
		return nil
	}
	delete(m.processing, id)
	m.acked++
	jobsAcked.Inc()
	return nil
}

func (m *Memory) Fail(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.processing[id]
	if !ok || rec.job.Status != StatusProcessing {
		return nil
	}
	rec.job.Status = StatusFailed
	rec.job.FailReason = reason
	m.failed++
	jobsFailed.Inc()
	return nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var processing int64
	for _, rec := range m.processing {
		if rec.job.Status == StatusProcessing {
			processing++
		}
	}

	s := Stats{
		Queued:     int64(len(m.queued)),
		Processing: processing,
		Acked:      m.acked,
		Failed:     m.failed,
	}
	recordStats(s)
	return s, nil
}

func (m *Memory) ReclaimStale(ctx context.Context, visibility time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-visibility)
	reclaimed := 0

	for id, rec := range m.processing {
		if rec.job.Status != StatusProcessing || rec.dequeuedAt.After(cutoff) {
			continue
		}

		job := *rec.job
		job.Status = StatusQueued
		data, err := encodeJob(&job)
		if err != nil {
			return reclaimed, err
		}

		// Requeue at the head so the oldest abandoned work is redelivered first.
		m.queued = append([][]byte{data}, m.queued...)
		delete(m.processing, id)
		reclaimed++
		jobsReclaimed.Inc()
	}

	return reclaimed, nil
}
