package store_test

import (
	"testing"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/aretw0/flowforge/internal/session/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestStore_CreateAndLoadSession(t *testing.T) {
	st := newStore(t)

	sess, branch, err := st.CreateSession(map[string]any{"turn_count": 0})
	require.NoError(t, err)
	require.Equal(t, sess.ActiveBranchID, branch.ID)

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, float64(0), loaded.LSSState["turn_count"])

	ids, err := st.ListSessions()
	require.NoError(t, err)
	assert.Contains(t, ids, sess.ID)
}

func TestStore_BeginRoundAllocatesStrictlyIncreasingRoundNos(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)

	r1, snap1, err := st.BeginRound(sess.ID, branch.ID, "enter tavern")
	require.NoError(t, err)
	assert.Equal(t, 1, r1.RoundNo)
	assert.Equal(t, r1.SnapshotID, snap1.ID)

	require.NoError(t, st.UpdateJobStatus(sess.ID, mustGatingJob(t, st, sess.ID, branch.ID, 1).ID, model.JobCompleted, "", nil, true))

	r2, _, err := st.BeginRound(sess.ID, branch.ID, "look around")
	require.NoError(t, err)
	assert.Equal(t, 2, r2.RoundNo)
}

func mustGatingJob(t *testing.T, st *store.Store, sessionID, branchID string, roundNo int) *model.Job {
	t.Helper()
	job, err := st.RecordJob(sessionID, branchID, roundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)
	return job
}

func TestStore_RecordJobBlocksRoundAndIsIdempotent(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)

	job1, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", map[string]any{"text": "reply"})
	require.NoError(t, err)

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	liveRound := loaded.Branches[branch.ID].Round(round.RoundNo)
	require.Equal(t, model.RoundBlocked, liveRound.Status)
	require.Contains(t, liveRound.Blockers, job1.ID)

	job2, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", map[string]any{"text": "reply"})
	require.NoError(t, err)
	assert.Equal(t, job1.ID, job2.ID, "second RecordJob with same idempotency key must return the same job")
}

func TestStore_BeginRoundRejectsWhileBlocked(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	_, err = st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)

	_, _, err = st.BeginRound(sess.ID, branch.ID, "again")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRoundBlocked, apperr.KindOf(err))
}

func TestStore_UpdateJobStatusCompletesClearsBlockersAndAppliesStateUpdates(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(map[string]any{})
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	job, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)

	require.NoError(t, st.UpdateJobStatus(sess.ID, job.ID, model.JobCompleted, "", map[string]any{"protagonist_mood": "uneasy"}, true))

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	liveRound := loaded.Branches[branch.ID].Round(round.RoundNo)
	assert.Equal(t, model.RoundCompleted, liveRound.Status)
	assert.Empty(t, liveRound.Blockers)
	assert.Equal(t, "uneasy", loaded.LSSState["protagonist_mood"])
}

func TestStore_UpdateJobStatusFailedFailsRoundByDefaultPolicy(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	job, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)

	require.NoError(t, st.UpdateJobStatus(sess.ID, job.ID, model.JobFailed, "boom", nil, true))
	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFailed, loaded.Branches[branch.ID].Round(round.RoundNo).Status)

	require.NoError(t, st.UpdateJobStatus(sess.ID, job.ID, model.JobFailed, "boom again", nil, false))
	loaded2, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFailed, loaded2.Branches[branch.ID].Round(round.RoundNo).Status, "status already failed; policy=false must not resurrect it")
}

func TestStore_CreateBranchForksFromParent(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	_, _, err = st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)

	newBranch, err := st.CreateBranch(sess.ID, branch.ID, 1, true)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, newBranch.ParentBranchID)
	assert.Equal(t, 1, newBranch.ForkedAtRound)

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, newBranch.ID, loaded.ActiveBranchID)

	forkedBranch := loaded.Branches[newBranch.ID]
	require.NotNil(t, forkedBranch.LatestRound(), "fork must carry round 1 forward so round numbering continues")
	assert.Equal(t, 1, forkedBranch.LatestRound().RoundNo)

	next, _, err := st.BeginRound(sess.ID, newBranch.ID, "continue")
	require.NoError(t, err)
	assert.Equal(t, 2, next.RoundNo, "a send on the forked branch allocates round_no = from_round + 1")
}

func TestStore_RecoverInFlightJobsRevertsEnqueuedAndRunningToPending(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	job, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)
	require.NoError(t, st.MarkJobEnqueued(sess.ID, job.ID))

	n, err := st.RecoverInFlightJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := st.LoadSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, loaded.Jobs[job.ID].Status)
}

func TestStore_ListPendingJobsGroupsBySession(t *testing.T) {
	st := newStore(t)
	sess, branch, err := st.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := st.BeginRound(sess.ID, branch.ID, "hello")
	require.NoError(t, err)
	job, err := st.RecordJob(sess.ID, branch.ID, round.RoundNo, model.JobKindStatusUpdate, "status_update@1", nil)
	require.NoError(t, err)

	pending, err := st.ListPendingJobs()
	require.NoError(t, err)
	require.Contains(t, pending, sess.ID)
	assert.Equal(t, job.ID, pending[sess.ID][0].ID)
}

func TestStore_LoadSessionUnknownIsNotFound(t *testing.T) {
	st := newStore(t)
	_, err := st.LoadSession("sess_nope")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
