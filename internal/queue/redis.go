package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is the durable Queue implementation. The queued list holds encoded
// envelopes in FIFO order; every dequeued job is parked in a per-job
// processing hash so a crashed consumer can be detected and the job
// redelivered by ReclaimStale.
type Redis struct {
	rdb    *redis.Client
	list   string
	proc   string // processing key prefix, one hash per job
	acked  string
	failed string
}

func NewRedis(rdb *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "settlement"
	}
	return &Redis{
		rdb:    rdb,
		list:   namespace + ":jobs",
		proc:   namespace + ":processing:",
		acked:  namespace + ":cnt:acked",
		failed: namespace + ":cnt:failed",
	}
}

func (r *Redis) Enqueue(ctx context.Context, payload []byte) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Payload:   append([]byte(nil), payload...),
		Status:    StatusQueued,
	}

	data, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.LPush(ctx, r.list, data).Err(); err != nil {
		return nil, fmt.Errorf("pushing job to queue: %w", err)
	}

	jobsEnqueued.Inc()
	return job, nil
}

func (r *Redis) Dequeue(ctx context.Context) (*Job, error) {
	raw, err := r.rdb.RPop(ctx, r.list).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping job from queue: %w", err)
	}

	job, err := decodeJob([]byte(raw))
	if err != nil {
		return nil, err
	}

	job.Attempts++
	job.Status = StatusProcessing

	fields := map[string]any{
		"id":          job.ID,
		"created_at":  job.CreatedAt.Format(time.RFC3339Nano),
		"payload":     string(job.Payload),
		"attempts":    job.Attempts,
		"status":      job.Status,
		"dequeued_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := r.rdb.HSet(ctx, r.proc+job.ID, fields).Err(); err != nil {
		// The job is no longer in the list; without the processing record it
		// would be lost on a crash, so surface the error to the consumer.
		return nil, fmt.Errorf("recording processing job %s: %w", job.ID, err)
	}

	return job, nil
}

func (r *Redis) Ack(ctx context.Context, id string) error {
	key := r.proc + id
	status, err := r.rdb.HGet(ctx, key, "status").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading processing job %s: %w", id, err)
	}
	// Acking a job that was already failed leaves the failed record alone.
	if status != StatusProcessing {
		return nil
	}

	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("acking job %s: %w", id, err)
	}
	if err := r.rdb.Incr(ctx, r.acked).Err(); err != nil {
		return fmt.Errorf("incrementing ack counter: %w", err)
	}
	jobsAcked.Inc()
	return nil
}

func (r *Redis) Fail(ctx context.Context, id string, reason string) error {
	key := r.proc + id
	meta, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loading processing job %s: %w", id, err)
	}
	if len(meta) == 0 || meta["status"] != StatusProcessing {
		return nil
	}

	// Failed records are retained for postmortems, never deleted here.
	if err := r.rdb.HSet(ctx, key, map[string]any{
		"status":      StatusFailed,
		"fail_reason": reason,
	}).Err(); err != nil {
		return fmt.Errorf("marking job %s failed: %w", id, err)
	}
	if err := r.rdb.Incr(ctx, r.failed).Err(); err != nil {
		return fmt.Errorf("incrementing fail counter: %w", err)
	}
	jobsFailed.Inc()
	return nil
}

func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	queued, err := r.rdb.LLen(ctx, r.list).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("reading queue length: %w", err)
	}

	var processing int64
	iter := r.rdb.Scan(ctx, 0, r.proc+"*", 100).Iterator()
	for iter.Next(ctx) {
		status, err := r.rdb.HGet(ctx, iter.Val(), "status").Result()
		if err == nil && status == StatusProcessing {
			processing++
		}
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("scanning processing set: %w", err)
	}

	s := Stats{
		Queued:     queued,
		Processing: processing,
		Acked:      r.counter(ctx, r.acked),
		Failed:     r.counter(ctx, r.failed),
	}
	recordStats(s)
	return s, nil
}

func (r *Redis) ReclaimStale(ctx context.Context, visibility time.Duration) (int, error) {
	cutoff := time.Now().Add(-visibility)
	reclaimed := 0

	iter := r.rdb.Scan(ctx, 0, r.proc+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		meta, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(meta) == 0 || meta["status"] != StatusProcessing {
			continue
		}
		dequeuedAt, err := time.Parse(time.RFC3339Nano, meta["dequeued_at"])
		if err != nil || dequeuedAt.After(cutoff) {
			continue
		}

		attempts, _ := strconv.Atoi(meta["attempts"])
		createdAt, _ := time.Parse(time.RFC3339Nano, meta["created_at"])
		job := Job{
			ID:        meta["id"],
			CreatedAt: createdAt,
			Payload:   []byte(meta["payload"]),
			Attempts:  attempts,
			Status:    StatusQueued,
		}
		data, err := encodeJob(&job)
		if err != nil {
			return reclaimed, err
		}

		// RPush puts the job at the pop end so abandoned work goes out first.
		if err := r.rdb.RPush(ctx, r.list, data).Err(); err != nil {
			return reclaimed, fmt.Errorf("requeueing job %s: %w", job.ID, err)
		}
		if err := r.rdb.Del(ctx, key).Err(); err != nil {
			return reclaimed, fmt.Errorf("removing processing record %s: %w", job.ID, err)
		}
		reclaimed++
		jobsReclaimed.Inc()
	}
	if err := iter.Err(); err != nil {
		return reclaimed, fmt.Errorf("scanning processing set: %w", err)
	}

	return reclaimed, nil
}

func (r *Redis) counter(ctx context.Context, key string) int64 {
	v, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
