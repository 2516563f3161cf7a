package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to the server named by REDIS_TEST_ADDR under a
// throwaway namespace, skipping when none is available.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis at %s not reachable: %v", addr, err)
	}

	ns := fmt.Sprintf("queue-test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		iter := rdb.Scan(cleanupCtx, 0, ns+"*", 100).Iterator()
		for iter.Next(cleanupCtx) {
			rdb.Del(cleanupCtx, iter.Val())
		}
		rdb.Close()
	})

	return NewRedis(rdb, ns)
}

func TestRedis_FIFOAndOpaquePayload(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)

	payloads := [][]byte{[]byte(`{"n":1}`), []byte("{broken\x00"), []byte(`{"n":3}`)}
	for _, p := range payloads {
		if _, err := q.Enqueue(ctx, p); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for i, want := range payloads {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d failed: %v", i, err)
		}
		if job == nil {
			t.Fatalf("Dequeue %d returned nil, want job", i)
		}
		if !bytes.Equal(job.Payload, want) {
			t.Errorf("Dequeue %d payload = %q, want %q", i, job.Payload, want)
		}
		if job.Attempts != 1 || job.Status != StatusProcessing {
			t.Errorf("Dequeue %d = attempts %d status %s, want 1 %s", i, job.Attempts, job.Status, StatusProcessing)
		}
	}

	if job, err := q.Dequeue(ctx); err != nil || job != nil {
		t.Errorf("Dequeue on empty queue = (%+v, %v), want (nil, nil)", job, err)
	}
}

func TestRedis_AckAfterFailIsNoOp(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)

	q.Enqueue(ctx, []byte(`{}`))
	job, err := q.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue = (%+v, %v)", job, err)
	}

	if err := q.Fail(ctx, job.ID, "backend rejected payout"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatalf("Ack after Fail errored: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Acked != 0 || stats.Failed != 1 {
		t.Errorf("Stats = acked %d failed %d, want 0/1; ack after fail must not count", stats.Acked, stats.Failed)
	}

	// The failed record is retained for inspection.
	meta, err := q.rdb.HGetAll(ctx, q.proc+job.ID).Result()
	if err != nil {
		t.Fatalf("reading processing record: %v", err)
	}
	if meta["status"] != StatusFailed || meta["fail_reason"] != "backend rejected payout" {
		t.Errorf("retained record = %s/%q, want %s with reason", meta["status"], meta["fail_reason"], StatusFailed)
	}
}

func TestRedis_ReclaimStaleRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)

	q.Enqueue(ctx, []byte(`{"n":1}`))
	job, err := q.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue = (%+v, %v)", job, err)
	}

	if n, err := q.ReclaimStale(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("ReclaimStale inside visibility window = (%d, %v), want (0, nil)", n, err)
	}

	// Zero visibility makes any in-flight job immediately stale.
	n, err := q.ReclaimStale(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", n)
	}

	redelivered, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after reclaim failed: %v", err)
	}
	if redelivered == nil || redelivered.ID != job.ID {
		t.Fatalf("redelivered job = %+v, want id %s", redelivered, job.ID)
	}
	if redelivered.Attempts != 2 {
		t.Errorf("redelivered attempts = %d, want 2", redelivered.Attempts)
	}
	if !bytes.Equal(redelivered.Payload, job.Payload) {
		t.Errorf("redelivered payload = %q, want %q", redelivered.Payload, job.Payload)
	}
}

func TestRedis_MalformedEnvelope(t *testing.T) {
	ctx := context.Background()
	q := newTestRedis(t)

	// A corrupted list entry, as if written by a buggy producer.
	if err := q.rdb.LPush(ctx, q.list, "not an envelope").Err(); err != nil {
		t.Fatalf("LPush failed: %v", err)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("Dequeue of corrupt envelope = %v, want ErrMalformedJob", err)
	}
}
