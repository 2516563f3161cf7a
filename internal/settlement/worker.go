package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sapliy/auction-settlement/internal/queue"
	"github.com/sapliy/auction-settlement/pkg/observability"
)

// WorkerConfig tunes the consumer side of the pipeline.
type WorkerConfig struct {
	// Workers is the number of concurrent reconcile loops.
	Workers int

	// PollInterval is how long an idle worker sleeps on an empty queue.
	PollInterval time.Duration

	// Visibility is how long a dequeued job may sit unacked before the
	// sweeper requeues it.
	Visibility time.Duration

	// SweepInterval is how often the sweeper looks for stale jobs.
	SweepInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Visibility <= 0 {
		c.Visibility = 2 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// Worker runs the payout consumer loops and the redelivery sweeper.
type Worker struct {
	orch *Orchestrator
	jobs queue.Queue
	cfg  WorkerConfig
	log  *observability.Logger
}

func NewWorker(orch *Orchestrator, jobs queue.Queue, cfg WorkerConfig, log *observability.Logger) *Worker {
	return &Worker{orch: orch, jobs: jobs, cfg: cfg.withDefaults(), log: log}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweep(ctx)
	}()

	w.log.Info("settlement workers started", "workers", w.cfg.Workers, "visibility", w.cfg.Visibility.String())
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrMalformedJob) {
				// The envelope itself is unreadable; there is no id to fail.
				w.log.Error("dropping unreadable job envelope", "worker", id, "error", err.Error())
				continue
			}
			w.log.Error("dequeue failed", "worker", id, "error", err.Error())
			w.idle(ctx)
			continue
		}
		if job == nil {
			w.idle(ctx)
			continue
		}

		if err := w.orch.Reconcile(ctx, job); err != nil {
			w.log.Warn("reconcile did not complete", "worker", id, "job_id", job.ID, "error", err.Error())
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.jobs.ReclaimStale(ctx, w.cfg.Visibility)
			if err != nil {
				w.log.Error("reclaim sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}

func (w *Worker) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}
