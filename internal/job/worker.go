package job

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/state"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/aretw0/flowforge/internal/metrics"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/aretw0/flowforge/internal/session/store"
)

// RetryPolicy controls the exponential backoff a failed job handler is
// retried under (§7): base*factor^attempts, capped at MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
}

// DefaultRetryPolicy matches the spec's stated default: 5 attempts,
// 1s base, factor 2.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Base: time.Second, Factor: 2}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(attempt)))
}

// FlowRefs maps a job kind to the subflow document it runs.
type FlowRefs map[model.JobKind]string

// DefaultFlowRefs maps each job kind to its bundled post-processing
// subflow: status_update, guidance and summarize.
var DefaultFlowRefs = FlowRefs{
	model.JobKindStatusUpdate: "status_update@1",
	model.JobKindGuidance:     "guidance@1",
	model.JobKindSummarize:    "summarize@1",
}

// Worker executes a delivered job: it loads the job and its owning
// session, runs the configured subflow through the Executor with a
// NodeContext bound to the job's session/branch/round, and writes the
// result back via the Session Store — grounded on
// original_source/services/job_worker.py's process_job, generalized
// from its two hardcoded handlers to a FlowRefs-driven dispatch table.
type Worker struct {
	Store                     *store.Store
	Executor                  *interp.Executor
	Resources                 map[string]any
	FlowRefs                  FlowRefs
	Retry                     RetryPolicy
	FailRoundOnBlockerFailure bool
	Logger                    *slog.Logger
}

// NewWorker builds a Worker with the spec's default retry policy and
// flow-ref table; FailRoundOnBlockerFailure defaults true per §4.6.
func NewWorker(st *store.Store, executor *interp.Executor, resources map[string]any, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Store:                     st,
		Executor:                  executor,
		Resources:                 resources,
		FlowRefs:                  DefaultFlowRefs,
		Retry:                     DefaultRetryPolicy,
		FailRoundOnBlockerFailure: true,
		Logger:                    logger,
	}
}

// Handle loads the job named by ref, dispatches it to its kind's
// subflow, and records the outcome. A handler failure is retried
// in-process up to Retry.MaxAttempts with exponential backoff before
// the job is marked failed; idempotency keys make a duplicate
// delivery of an already-completed job a safe no-op.
func (w *Worker) Handle(ctx context.Context, ref Ref) error {
	sess, err := w.Store.LoadSession(ref.SessionID)
	if err != nil {
		return err
	}
	job, ok := sess.Jobs[ref.JobID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("job %q not found", ref.JobID))
	}
	if job.Status == model.JobCompleted {
		return nil
	}

	flowRef, ok := w.FlowRefs[job.Kind]
	if !ok {
		return apperr.New(apperr.KindSchema, fmt.Sprintf("no flow configured for job kind %q", job.Kind))
	}

	var lastErr error
	for attempt := 0; attempt < w.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.Retry.delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		updates, runErr := w.run(ctx, sess, job, flowRef)
		if runErr == nil {
			metrics.JobsCompleted.WithLabelValues(string(job.Kind)).Inc()
			return w.Store.UpdateJobStatus(ref.SessionID, ref.JobID, model.JobCompleted, "", updates, w.FailRoundOnBlockerFailure)
		}
		lastErr = runErr
		w.Logger.Warn("job attempt failed", "kind", job.Kind, "job_id", job.ID, "attempt", attempt+1, "err", runErr)
	}

	metrics.JobsFailed.WithLabelValues(string(job.Kind)).Inc()
	_ = w.Store.UpdateJobStatus(ref.SessionID, ref.JobID, model.JobFailed, lastErr.Error(), nil, w.FailRoundOnBlockerFailure)
	return lastErr
}

func (w *Worker) run(ctx context.Context, sess *model.Session, job *model.Job, flowRef string) (map[string]any, error) {
	mgr := state.New(sess.LSSState)
	nodeCtx := exec.NodeContext{
		Ctx:       ctx,
		SessionID: sess.ID,
		BranchID:  job.BranchID,
		RoundNo:   job.RoundNo,
		State:     mgr,
		Resources: w.Resources,
		Logger:    w.Logger,
	}

	item := types.Item{}
	for k, v := range job.Payload {
		item[k] = v
	}
	result, err := w.Executor.ExecuteRef(flowRef, types.Items{item}, nodeCtx)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("job subflow %q reported errors: %v", flowRef, result.Errors))
	}

	// The subflow writes the well-known result keys onto the state
	// manager via WriteState nodes; the updates handed to
	// UpdateJobStatus are exactly what changed between the seeded LSS
	// and the manager's LSS after the run, so diff the two instead of
	// trusting item output shape.
	before := sess.LSSState
	after := mgr.Snapshot()
	updates := map[string]any{}
	for k, v := range after {
		if bv, ok := before[k]; !ok || !reflect.DeepEqual(bv, v) {
			updates[k] = v
		}
	}
	return updates, nil
}
