// Package store implements the Session Store (C6): one canonical
// JSON document per session holding its full tree of branches,
// rounds, snapshots, jobs and outbox entries, written with the
// temp-file-plus-rename atomic-replace technique grounded on the
// teacher's internal/adapters/file.Store, generalized here from a
// single flat domain.State record to the richer session tree §3
// defines.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/session/model"
	"github.com/google/uuid"
)

// Store persists Session documents under BaseDir, one file per
// session, serializing writes to a given session with a per-id lock
// (the teacher's file store relies on the OS rename being atomic;
// this adds the per-session mutex the spec's "serializes writes
// within a process" clause requires on top of that).
type Store struct {
	BaseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create session store dir", err)
	}
	return &Store{BaseDir: baseDir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func now() time.Time { return time.Now().UTC() }

// writeAtomic marshals doc and replaces the session file: write to a
// temp file in the same directory (so the rename stays on one
// filesystem), fsync, then os.Rename over the destination.
func (s *Store) writeAtomic(sess *model.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "marshal session", err)
	}
	dest := s.path(sess.ID)
	tmp, err := os.CreateTemp(s.BaseDir, "tmp-"+sess.ID+"-*.json")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create temp session file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write temp session file", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "fsync temp session file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "close temp session file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return apperr.Wrap(apperr.KindInternal, "rename session file into place", err)
	}
	return nil
}

func (s *Store) read(id string) (*model.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("session %q not found", id))
		}
		return nil, apperr.Wrap(apperr.KindInternal, "read session file", err)
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decode session file", err)
	}
	return &sess, nil
}

// CreateSession creates a session with a default branch, persists it
// and returns a deep copy.
func (s *Store) CreateSession(initialState map[string]any) (*model.Session, *model.Branch, error) {
	id := newID("sess")
	branchID := newID("br")
	ts := now()
	if initialState == nil {
		initialState = map[string]any{}
	}
	sess := &model.Session{
		ID:             id,
		CreatedAt:      ts,
		UpdatedAt:      ts,
		ActiveBranchID: branchID,
		LSSState:       initialState,
		Branches: map[string]*model.Branch{
			branchID: {ID: branchID, CreatedAt: ts, Rounds: []*model.Round{}, Snapshots: map[string]*model.Snapshot{}},
		},
		Jobs:   map[string]*model.Job{},
		Outbox: nil,
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := s.writeAtomic(sess); err != nil {
		return nil, nil, err
	}
	return sess.Clone(), sess.Branches[branchID], nil
}

// LoadSession returns a deep copy of the persisted session tree.
func (s *Store) LoadSession(id string) (*model.Session, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// ListSessions returns every session id known to the store, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list session dir", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateBranch appends a new branch to the session, optionally forked
// from an existing branch/round. It does not touch the session's LSS:
// the session document keeps a single LSS, and the Chat Pipeline seeds
// it from the fork round's snapshot with a separate UpdateSessionLSS
// call.
//
// Rounds up to and including fromRound are copied from the parent
// branch (along with the snapshots they anchor) so round_no keeps
// counting up from the fork point instead of restarting at 1 — a send
// on the new branch allocates fromRound+1, matching §8 scenario 4.
func (s *Store) CreateBranch(sessionID string, parentBranchID string, fromRound int, setActive bool) (*model.Branch, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	branchID := newID("br")
	ts := now()
	branch := &model.Branch{
		ID:             branchID,
		ParentBranchID: parentBranchID,
		ForkedAtRound:  fromRound,
		CreatedAt:      ts,
		Rounds:         []*model.Round{},
		Snapshots:      map[string]*model.Snapshot{},
	}
	if parent, ok := sess.Branches[parentBranchID]; ok && fromRound > 0 {
		for _, r := range parent.Rounds {
			if r.RoundNo > fromRound {
				continue
			}
			rc := *r
			rc.Blockers = append([]string(nil), r.Blockers...)
			rc.Messages = append([]model.Message(nil), r.Messages...)
			rc.Items = append([]map[string]any(nil), r.Items...)
			rc.Metrics = cloneMap(r.Metrics)
			rc.Logs = append([]string(nil), r.Logs...)
			branch.Rounds = append(branch.Rounds, &rc)
			if snap, ok := parent.Snapshots[r.SnapshotID]; ok {
				sc := *snap
				sc.State = cloneMap(snap.State)
				branch.Snapshots[snap.ID] = &sc
			}
		}
	}
	sess.Branches[branchID] = branch
	if setActive {
		sess.ActiveBranchID = branchID
	}
	sess.UpdatedAt = ts
	if err := s.writeAtomic(sess); err != nil {
		return nil, err
	}
	return branch, nil
}

// SetActiveBranch switches the session's active branch pointer.
func (s *Store) SetActiveBranch(sessionID, branchID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return err
	}
	if _, ok := sess.Branches[branchID]; !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	sess.ActiveBranchID = branchID
	sess.UpdatedAt = now()
	return s.writeAtomic(sess)
}

// BeginRound allocates the next round_no on branchID, anchors a
// Snapshot of the current LSS, and writes an open Round pointing at
// it — the per-round anchor the spec requires at send time.
func (s *Store) BeginRound(sessionID, branchID, userInput string) (*model.Round, *model.Snapshot, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return nil, nil, err
	}
	branch, ok := sess.Branches[branchID]
	if !ok {
		return nil, nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	if last := branch.LatestRound(); last != nil && last.Status == model.RoundBlocked {
		return nil, nil, apperr.New(apperr.KindRoundBlocked, fmt.Sprintf("round %d is blocked", last.RoundNo))
	}
	roundNo := 1
	if last := branch.LatestRound(); last != nil {
		roundNo = last.RoundNo + 1
	}
	ts := now()
	snapID := newID("snap")
	snap := &model.Snapshot{ID: snapID, RoundNo: roundNo, State: cloneMap(sess.LSSState), CreatedAt: ts}
	branch.Snapshots[snapID] = snap

	round := &model.Round{
		RoundNo:    roundNo,
		Status:     model.RoundOpen,
		SnapshotID: snapID,
		Messages:   []model.Message{{Role: "user", Content: userInput}},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	branch.Rounds = append(branch.Rounds, round)
	sess.UpdatedAt = ts
	if err := s.writeAtomic(sess); err != nil {
		return nil, nil, err
	}
	return round, snap, nil
}

// SaveRoundReply records the LLM reply, item trace, metrics and logs
// produced by the main IR run onto its round.
func (s *Store) SaveRoundReply(sessionID, branchID string, roundNo int, reply string, items []map[string]any, metrics map[string]any, logs []string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return err
	}
	branch, round, err := findRound(sess, branchID, roundNo)
	if err != nil {
		return err
	}
	_ = branch
	round.LLMReply = reply
	round.Items = items
	round.Metrics = metrics
	round.Logs = logs
	round.UpdatedAt = now()
	return s.writeAtomic(sess)
}

// RecordJob computes the idempotency key for (sessionID, branchID,
// roundNo, kind, ref); if a job already exists with that key it is
// returned unchanged (idempotent insert), otherwise a fresh Job and
// Outbox entry are created, and — if kind is blocking — the round
// moves to RoundBlocked with this job id added to its blockers.
func (s *Store) RecordJob(sessionID, branchID string, roundNo int, kind model.JobKind, ref string, payload map[string]any) (*model.Job, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	key := model.ComputeIdempotencyKey(sessionID, branchID, roundNo, kind, ref)
	for _, j := range sess.Jobs {
		if j.IdempotencyKey == key {
			cp := *j
			return &cp, nil
		}
	}
	_, round, err := findRound(sess, branchID, roundNo)
	if err != nil {
		return nil, err
	}
	ts := now()
	job := &model.Job{
		ID:             newID("job"),
		Kind:           kind,
		BranchID:       branchID,
		RoundNo:        roundNo,
		IdempotencyKey: key,
		Status:         model.JobPending,
		Payload:        payload,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	sess.Jobs[job.ID] = job
	sess.Outbox = append(sess.Outbox, model.OutboxEntry{JobID: job.ID})

	if kind.Blocking() {
		round.Blockers = append(round.Blockers, job.ID)
		round.Status = model.RoundBlocked
	}
	round.UpdatedAt = ts
	sess.UpdatedAt = ts
	if err := s.writeAtomic(sess); err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

// MarkJobEnqueued flips a job's outbox entry to delivered and its
// status to enqueued, the claim the Outbox Poller makes in the same
// critical section as reading status=pending (§5).
func (s *Store) MarkJobEnqueued(sessionID, jobID string) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return err
	}
	job, ok := sess.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	if job.Status != model.JobPending {
		return nil
	}
	job.Status = model.JobEnqueued
	job.UpdatedAt = now()
	for i := range sess.Outbox {
		if sess.Outbox[i].JobID == jobID {
			sess.Outbox[i].Enqueued = true
		}
	}
	return s.writeAtomic(sess)
}

// UpdateJobStatus records a job's terminal or intermediate state. On
// `completed`, if the job was blocking its id is removed from the
// owning round's blockers and the round moves to `completed` once
// blockers empties; `state_updates` (when given) are applied to the
// session's LSS. On `failed`, the round becomes `failed` only when
// failRoundOnBlockerFailure is true (the spec's default policy);
// otherwise the round stays blocked, pending a retried delivery.
func (s *Store) UpdateJobStatus(sessionID, jobID string, status model.JobStatus, lastErr string, stateUpdates map[string]any, failRoundOnBlockerFailure bool) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return err
	}
	job, ok := sess.Jobs[jobID]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	job.Status = status
	job.UpdatedAt = now()
	if status == model.JobFailed {
		job.Attempts++
	}

	if len(stateUpdates) > 0 {
		if sess.LSSState == nil {
			sess.LSSState = map[string]any{}
		}
		for k, v := range stateUpdates {
			sess.LSSState[k] = v
		}
	}

	branch, round, rerr := findRound(sess, job.BranchID, job.RoundNo)
	if rerr == nil {
		switch status {
		case model.JobCompleted:
			if job.Kind.Blocking() {
				round.Blockers = removeID(round.Blockers, jobID)
				if len(round.Blockers) == 0 {
					round.Status = model.RoundCompleted
				}
			}
		case model.JobFailed:
			if job.Kind.Blocking() && failRoundOnBlockerFailure {
				round.Status = model.RoundFailed
			}
		}
		round.UpdatedAt = now()
		_ = branch
	}
	sess.UpdatedAt = now()
	return s.writeAtomic(sess)
}

// CountBlockedRounds scans every session and counts rounds currently
// in RoundBlocked, for the /metrics rounds-blocked gauge.
func (s *Store) CountBlockedRounds() (int, error) {
	ids, err := s.ListSessions()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		sess, err := s.LoadSession(id)
		if err != nil {
			continue
		}
		for _, branch := range sess.Branches {
			for _, round := range branch.Rounds {
				if round.Status == model.RoundBlocked {
					count++
				}
			}
		}
	}
	return count, nil
}

// ListPendingJobs returns every job across every session whose
// status is `pending`, for the Outbox Poller to drain.
func (s *Store) ListPendingJobs() (map[string][]*model.Job, error) {
	ids, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*model.Job)
	for _, id := range ids {
		sess, err := s.LoadSession(id)
		if err != nil {
			continue
		}
		var pending []*model.Job
		for _, j := range sess.Jobs {
			if j.Status == model.JobPending {
				pending = append(pending, j)
			}
		}
		if len(pending) > 0 {
			sort.Slice(pending, func(i, k int) bool { return pending[i].CreatedAt.Before(pending[k].CreatedAt) })
			out[id] = pending
		}
	}
	return out, nil
}

// RecoverInFlightJobs reverts jobs stuck in `enqueued`/`running` back
// to `pending` so at-least-once delivery can redeliver them after a
// crash — called once at startup.
func (s *Store) RecoverInFlightJobs() (int, error) {
	ids, err := s.ListSessions()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, id := range ids {
		lock := s.lockFor(id)
		lock.Lock()
		sess, err := s.read(id)
		if err != nil {
			lock.Unlock()
			continue
		}
		dirty := false
		for _, j := range sess.Jobs {
			if j.Status == model.JobEnqueued || j.Status == model.JobRunning {
				j.Status = model.JobPending
				j.UpdatedAt = now()
				dirty = true
				recovered++
			}
		}
		if dirty {
			_ = s.writeAtomic(sess)
		}
		lock.Unlock()
	}
	return recovered, nil
}

// UpdateSessionLSS overwrites the session-level LSS with the given
// full state view (the Chat Pipeline calls this once per send with the
// State Manager's post-run LSS, and once per branch fork with the fork
// round's snapshot; reroll does not call it), keeping the persisted
// session in sync with the in-memory dual-state view it handed out).
func (s *Store) UpdateSessionLSS(sessionID string, lss map[string]any) error {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return err
	}
	sess.LSSState = lss
	sess.UpdatedAt = now()
	return s.writeAtomic(sess)
}

// GetRound returns a round's data and its owning branch's snapshot of
// the round's anchor, used by reroll and status endpoints.
func (s *Store) GetRound(sessionID, branchID string, roundNo int) (*model.Round, *model.Snapshot, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	sess, err := s.read(sessionID)
	if err != nil {
		return nil, nil, err
	}
	branch, round, err := findRound(sess, branchID, roundNo)
	if err != nil {
		return nil, nil, err
	}
	snap := branch.Snapshots[round.SnapshotID]
	return round, snap, nil
}

func findRound(sess *model.Session, branchID string, roundNo int) (*model.Branch, *model.Round, error) {
	branch, ok := sess.Branches[branchID]
	if !ok {
		return nil, nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	round := branch.Round(roundNo)
	if round == nil {
		return nil, nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("round %d not found", roundNo))
	}
	return branch, round, nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// cloneMap deep-copies in so a Snapshot/Round's state never aliases
// the session's live LSS map, matching §4.5's "returned values are
// deep copies".
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return val
	}
}
