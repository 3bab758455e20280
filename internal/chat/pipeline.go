// Package chat implements the Chat Pipeline (C9): the orchestration
// that ties the Session Store, State Manager and Executor together on
// every player send, schedules the gating and non-blocking
// post-processing jobs, and supports reroll/branch — grounded on
// original_source/api/chat_endpoints.py's chat_send/chat_round_reroll/
// chat_create_branch handlers.
package chat

import (
	"context"
	"log/slog"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/state"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/aretw0/flowforge/internal/job"
	"github.com/aretw0/flowforge/internal/metrics"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/aretw0/flowforge/internal/session/store"
)

// JobSpec describes one post-processing job the pipeline should
// record after a send, keyed by the flow ref it will run.
type JobSpec struct {
	Kind model.JobKind
	Ref  string
}

// Policy controls which jobs Send schedules after the main IR run.
type Policy struct {
	// Gating is the blocking job recorded on every send (default:
	// StatusUpdate against status_update@1).
	Gating JobSpec
	// NonBlocking is scheduled alongside Gating but never gates the
	// next round; its zero value (empty Ref) disables it.
	NonBlocking JobSpec
}

// DefaultPolicy matches §4.9 step 5: a blocking StatusUpdate plus an
// optional non-blocking Guidance job, both Subflow refs bundled with
// the system.
var DefaultPolicy = Policy{
	Gating:      JobSpec{Kind: model.JobKindStatusUpdate, Ref: "status_update@1"},
	NonBlocking: JobSpec{Kind: model.JobKindGuidance, Ref: "guidance@1"},
}

// Pipeline is the chat orchestration entry point bound to a
// particular Executor/Store/Queue triple.
type Pipeline struct {
	Store     *store.Store
	Executor  *interp.Executor
	Queue     job.Queue
	Worker    *job.Worker
	Resources map[string]any
	Policy    Policy
	Logger    *slog.Logger
}

// New builds a Pipeline with the spec's default job policy.
func New(st *store.Store, executor *interp.Executor, q job.Queue, w *job.Worker, resources map[string]any, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Store: st, Executor: executor, Queue: q, Worker: w, Resources: resources, Policy: DefaultPolicy, Logger: logger}
}

// SendResult is what Send (and Reroll) return to the HTTP surface.
type SendResult struct {
	RoundNo      int
	SnapshotID   string
	LLMReply     string
	Items        types.Items
	Logs         []string
	Metrics      map[string]any
	StateView    map[string]any
	RoundStatus  model.RoundStatus
	Blockers     []string
}

// Send runs §4.9's six steps: resolve the branch, open a round
// (snapshotting LSS), run the main IR, persist the reply, record
// post-processing jobs, and return immediately with the reply plus
// the prompt-facing state view.
func (p *Pipeline) Send(ctx context.Context, sessionID, branchID, userInput, ref string, extras map[string]any) (*SendResult, error) {
	sess, err := p.Store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if branchID == "" {
		branchID = sess.ActiveBranchID
	} else if _, ok := sess.Branches[branchID]; !ok {
		return nil, apperr.New(apperr.KindNotFound, "branch not found")
	}

	round, snap, err := p.Store.BeginRound(sessionID, branchID, userInput)
	if err != nil {
		return nil, err
	}

	mgr := state.New(snap.State)
	nodeCtx := exec.NodeContext{
		Ctx:       ctx,
		SessionID: sessionID,
		BranchID:  branchID,
		RoundNo:   round.RoundNo,
		State:     mgr,
		Resources: p.Resources,
		Logger:    p.Logger,
	}

	item := types.Item{"user_input": userInput}
	for k, v := range extras {
		item[k] = v
	}

	result, err := p.Executor.ExecuteRef(ref, types.Items{item}, nodeCtx)
	if err != nil {
		return nil, err
	}

	reply := replyFrom(result.Items)
	if err := p.Store.SaveRoundReply(sessionID, branchID, round.RoundNo, reply, itemsToMaps(result.Items), result.Metrics, result.Logs); err != nil {
		return nil, err
	}
	if err := p.applyLSS(sessionID, mgr); err != nil {
		return nil, err
	}

	blockers, err := p.scheduleJobs(ctx, sessionID, branchID, round.RoundNo, reply)
	if err != nil {
		return nil, err
	}

	status, blockerIDs, err := p.roundStatus(sessionID, branchID, round.RoundNo)
	if err != nil {
		return nil, err
	}
	_ = blockers

	return &SendResult{
		RoundNo:     round.RoundNo,
		SnapshotID:  snap.ID,
		LLMReply:    reply,
		Items:       result.Items,
		Logs:        result.Logs,
		Metrics:     result.Metrics,
		StateView:   mgr.GetForPrompt(),
		RoundStatus: status,
		Blockers:    blockerIDs,
	}, nil
}

// scheduleJobs records the gating job (and non-blocking job, when
// configured) for a just-completed round.
func (p *Pipeline) scheduleJobs(ctx context.Context, sessionID, branchID string, roundNo int, reply string) ([]string, error) {
	payload := map[string]any{"text": reply}
	var blockers []string

	gating, err := p.Store.RecordJob(sessionID, branchID, roundNo, p.Policy.Gating.Kind, p.Policy.Gating.Ref, payload)
	if err != nil {
		return nil, err
	}
	blockers = append(blockers, gating.ID)
	p.dispatch(ctx, sessionID, gating.ID, gating.Kind)

	if p.Policy.NonBlocking.Ref != "" {
		nb, err := p.Store.RecordJob(sessionID, branchID, roundNo, p.Policy.NonBlocking.Kind, p.Policy.NonBlocking.Ref, payload)
		if err != nil {
			return nil, err
		}
		p.dispatch(ctx, sessionID, nb.ID, nb.Kind)
	}
	return blockers, nil
}

// dispatch hands a freshly recorded job straight to the queue (or
// executes it inline) instead of waiting for the next Outbox Poller
// tick, matching the source's chat_send behavior of enqueueing
// immediately rather than only relying on the background poller.
func (p *Pipeline) dispatch(ctx context.Context, sessionID, jobID string, kind model.JobKind) {
	ref := job.Ref{SessionID: sessionID, JobID: jobID}
	if p.Queue.WorkerHint() == "null" {
		if err := p.Worker.Handle(ctx, ref); err != nil {
			p.Logger.Warn("chat pipeline: inline job failed", "job_id", jobID, "err", err)
		}
		return
	}
	if err := p.Queue.Enqueue(ctx, ref); err != nil {
		p.Logger.Warn("chat pipeline: enqueue failed, outbox poller will retry", "job_id", jobID, "err", err)
		return
	}
	metrics.JobsEnqueued.WithLabelValues(string(kind)).Inc()
	if err := p.Store.MarkJobEnqueued(sessionID, jobID); err != nil {
		p.Logger.Warn("chat pipeline: mark enqueued failed", "job_id", jobID, "err", err)
	}
}

// RoundStatus reports a round's current status and blockers (the
// GET /api/chat/round/.../status contract).
func (p *Pipeline) RoundStatus(sessionID, branchID string, roundNo int) (model.RoundStatus, []string, error) {
	return p.roundStatus(sessionID, branchID, roundNo)
}

func (p *Pipeline) roundStatus(sessionID, branchID string, roundNo int) (model.RoundStatus, []string, error) {
	round, _, err := p.Store.GetRound(sessionID, branchID, roundNo)
	if err != nil {
		return "", nil, err
	}
	return round.Status, round.Blockers, nil
}

// Reroll re-runs the main IR for an already-completed round, starting
// from the round's anchored Snapshot rather than the session's
// current LSS, and replaces the round's reply/items/metrics/logs
// without allocating a new round_no or recording any jobs (idempotency
// keys would dedupe a re-record anyway; skipping it avoids outbox
// churn per §4.9).
func (p *Pipeline) Reroll(ctx context.Context, sessionID, branchID string, roundNo int, ref string, extras map[string]any) (*SendResult, error) {
	round, snap, err := p.Store.GetRound(sessionID, branchID, roundNo)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperr.New(apperr.KindInternal, "round missing anchor snapshot")
	}

	mgr := state.New(snap.State)
	nodeCtx := exec.NodeContext{
		Ctx:       ctx,
		SessionID: sessionID,
		BranchID:  branchID,
		RoundNo:   roundNo,
		State:     mgr,
		Resources: p.Resources,
		Logger:    p.Logger,
	}

	userInput := ""
	if len(round.Messages) > 0 {
		userInput = round.Messages[0].Content
	}
	item := types.Item{"user_input": userInput}
	for k, v := range extras {
		item[k] = v
	}

	result, err := p.Executor.ExecuteRef(ref, types.Items{item}, nodeCtx)
	if err != nil {
		return nil, err
	}
	reply := replyFrom(result.Items)
	if err := p.Store.SaveRoundReply(sessionID, branchID, roundNo, reply, itemsToMaps(result.Items), result.Metrics, result.Logs); err != nil {
		return nil, err
	}

	status, blockers, err := p.roundStatus(sessionID, branchID, roundNo)
	if err != nil {
		return nil, err
	}

	return &SendResult{
		RoundNo:     roundNo,
		LLMReply:    reply,
		Items:       result.Items,
		Logs:        result.Logs,
		Metrics:     result.Metrics,
		StateView:   mgr.GetForPrompt(),
		RoundStatus: status,
		Blockers:    blockers,
	}, nil
}

// BranchResult is what Branch returns.
type BranchResult struct {
	BranchID string
}

// Branch creates a new branch forked from parentBranchID at fromRound
// (the active branch and its latest round when either is omitted),
// seeding the new branch's lineage so sends on it start from that
// round's anchored LSS rather than the parent's current state.
func (p *Pipeline) Branch(sessionID, parentBranchID string, fromRound int, setActive bool) (*BranchResult, error) {
	sess, err := p.Store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if parentBranchID == "" {
		parentBranchID = sess.ActiveBranchID
	}
	parent, ok := sess.Branches[parentBranchID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "parent branch not found")
	}
	if fromRound == 0 {
		if last := parent.LatestRound(); last != nil {
			fromRound = last.RoundNo
		}
	}

	branch, err := p.Store.CreateBranch(sessionID, parentBranchID, fromRound, setActive)
	if err != nil {
		return nil, err
	}

	if fromRound > 0 {
		if round := parent.Round(fromRound); round != nil {
			if snap, ok := parent.Snapshots[round.SnapshotID]; ok {
				if err := p.seedBranchLSS(sessionID, snap.State); err != nil {
					return nil, err
				}
			}
		}
	}

	return &BranchResult{BranchID: branch.ID}, nil
}

// seedBranchLSS replaces the session-level LSS outright with the
// forked snapshot's state. The canonical document keeps one LSS per
// session (§3); a new branch's first Send reads it via BeginRound's
// snapshot, so seeding it here is what makes "initial LSS equals the
// snapshot of round 1 on B" (testable scenario 4) hold for the forked
// branch. This must be a full overwrite, not a merge into the
// session's current LSS: any key the session wrote after from_round
// (e.g. a WriteState key first set on a later round) must not survive
// into a branch forked before that round.
func (p *Pipeline) seedBranchLSS(sessionID string, lss map[string]any) error {
	return p.Store.UpdateSessionLSS(sessionID, lss)
}

func (p *Pipeline) applyLSS(sessionID string, mgr *state.Manager) error {
	return p.Store.UpdateSessionLSS(sessionID, mgr.Snapshot())
}

func replyFrom(items types.Items) string {
	if len(items) == 0 {
		return ""
	}
	first := items[0]
	if v, ok := first["llm_response"].(string); ok && v != "" {
		return v
	}
	if v, ok := first["reply"].(string); ok && v != "" {
		return v
	}
	if v, ok := first["narrative"].(string); ok {
		return v
	}
	return ""
}

func itemsToMaps(items types.Items) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = map[string]any(it)
	}
	return out
}
