package job_test

import (
	"context"
	"testing"

	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/nodes"
	"github.com/aretw0/flowforge/internal/flow/registry"
	"github.com/aretw0/flowforge/internal/job"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/aretw0/flowforge/internal/session/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWorkerHarness wires a Store/Executor/Worker triple plus a single
// registered flow ("probe@1") that copies its input item's "text"
// field into the "last_status" state key via WriteState — enough to
// exercise the Worker's load-job/run-subflow/diff-and-persist path
// without a real LLM adapter.
func newWorkerHarness(t *testing.T) (*store.Store, *job.Worker, model.JobKind) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	reg := registry.New()
	nodes.RegisterBuiltins(reg)
	loader := ir.NewLoader(nil)
	_, err = loader.Register(ir.Document{
		ID: "probe", Version: 1, Entry: "seq",
		Nodes: []ir.NodeSpec{
			{ID: "write", Type: "WriteState", Params: map[string]any{"from_item_map": map[string]any{"text": "last_status"}}},
			{ID: "seq", Type: ir.TypeSequence, Children: []string{"write"}},
		},
	})
	require.NoError(t, err)
	executor := interp.New(reg, loader)

	w := job.NewWorker(st, executor, map[string]any{}, nil)
	w.FlowRefs = job.FlowRefs{model.JobKindStatusUpdate: "probe@1"}
	return st, w, model.JobKindStatusUpdate
}

func TestWorker_HandleRunsSubflowAndAppliesStateDiff(t *testing.T) {
	st, w, kind := newWorkerHarness(t)
	sess, branch, err := st.CreateSession(map[string]any{})
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	recorded, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, kind, "probe@1", map[string]any{"text": "ok"})
	require.NoError(t, err)

	require.NoError(t, w.Handle(context.Background(), job.Ref{SessionID: sess.ID, JobID: recorded.ID}))

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, loaded.Jobs[recorded.ID].Status)
	assert.Equal(t, model.RoundCompleted, loaded.Branches[branch.ID].Round(round.RoundNo).Status)
	assert.Equal(t, "ok", loaded.LSSState["last_status"])
}

func TestWorker_HandleIsNoOpForAlreadyCompletedJob(t *testing.T) {
	st, w, kind := newWorkerHarness(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	recorded, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, kind, "probe@1", map[string]any{"text": "ok"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(sess.ID, recorded.ID, model.JobCompleted, "", nil, true))

	require.NoError(t, w.Handle(context.Background(), job.Ref{SessionID: sess.ID, JobID: recorded.ID}))
}

func TestWorker_HandleUnknownJobKindFails(t *testing.T) {
	st, w, _ := newWorkerHarness(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	recorded, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindGuidance, "guidance@1", nil)
	require.NoError(t, err)

	err = w.Handle(context.Background(), job.Ref{SessionID: sess.ID, JobID: recorded.ID})
	require.Error(t, err)
}

func TestWorker_HandleRetriesThenFailsOnPersistentError(t *testing.T) {
	st, w, kind := newWorkerHarness(t)
	w.FlowRefs = job.FlowRefs{kind: "does_not_exist@1"}
	w.Retry.MaxAttempts = 2
	w.Retry.Base = 0

	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	recorded, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, kind, "probe@1", nil)
	require.NoError(t, err)

	err = w.Handle(context.Background(), job.Ref{SessionID: sess.ID, JobID: recorded.ID})
	require.Error(t, err)

	loaded, loadErr := st.LoadSession(sess.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, model.JobFailed, loaded.Jobs[recorded.ID].Status)
	assert.Equal(t, model.RoundFailed, loaded.Branches[branch.ID].Round(round.RoundNo).Status)
}
