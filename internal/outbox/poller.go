// Package outbox implements the Outbox Poller (C8): a single-threaded
// periodic loop that drains each session's unenqueued jobs, handing
// them to the configured Queue — or, when the queue is the inline
// Null implementation, running the handler synchronously itself —
// grounded on original_source/services/outbox_poller.py's
// start_outbox_poller/_poll_loop.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/flowforge/internal/job"
	"github.com/aretw0/flowforge/internal/metrics"
	"github.com/aretw0/flowforge/internal/session/store"
)

// DefaultInterval is the spec's stated default poll period.
const DefaultInterval = 250 * time.Millisecond

// Poller periodically scans the Session Store for pending jobs and
// dispatches them through Queue (or Worker directly, inline).
type Poller struct {
	Store    *store.Store
	Queue    job.Queue
	Worker   *job.Worker
	Interval time.Duration
	Logger   *slog.Logger
}

// New builds a Poller with the spec's default 250ms interval.
func New(st *store.Store, q job.Queue, w *job.Worker, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		Store:    st,
		Queue:    q,
		Worker:   w,
		Interval: DefaultInterval,
		Logger:   logger,
	}
}

// Run blocks, ticking every Interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Tick runs a single poll pass; exported so tests can drive it
// deterministically instead of waiting on a ticker.
func (p *Poller) Tick(ctx context.Context) { p.tick(ctx) }

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.OutboxPollDuration.Observe(time.Since(start).Seconds()) }()

	if blocked, err := p.Store.CountBlockedRounds(); err == nil {
		metrics.RoundsBlocked.Set(float64(blocked))
	}

	pending, err := p.Store.ListPendingJobs()
	if err != nil {
		p.Logger.Error("outbox poller: list pending jobs failed", "err", err)
		return
	}
	inline := p.Queue.WorkerHint() == "null"
	for sessionID, jobs := range pending {
		for _, j := range jobs {
			ref := job.Ref{SessionID: sessionID, JobID: j.ID}
			if inline {
				if err := p.Worker.Handle(ctx, ref); err != nil {
					p.Logger.Warn("outbox poller: inline job failed", "job_id", j.ID, "err", err)
				}
				continue
			}
			if err := p.Queue.Enqueue(ctx, ref); err != nil {
				p.Logger.Warn("outbox poller: enqueue failed, retrying next tick", "job_id", j.ID, "err", err)
				continue
			}
			metrics.JobsEnqueued.WithLabelValues(string(j.Kind)).Inc()
			if err := p.Store.MarkJobEnqueued(sessionID, j.ID); err != nil {
				p.Logger.Warn("outbox poller: mark enqueued failed", "job_id", j.ID, "err", err)
			}
		}
	}
}
