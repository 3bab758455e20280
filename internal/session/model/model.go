// Package model defines the Session Store's persisted tree: a Session
// owns Branches, a Branch owns an ordered sequence of Rounds, each
// Round may pin a Snapshot, and Jobs/Outbox entries track asynchronous
// work tied to a round.
package model

import "time"

// RoundStatus is a round's lifecycle state. blocked holds exactly when
// Blockers is non-empty.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundBlocked   RoundStatus = "blocked"
	RoundCompleted RoundStatus = "completed"
	RoundFailed    RoundStatus = "failed"
)

// JobKind distinguishes blocking ("gating") job kinds, which hold a
// round in RoundBlocked until resolved, from non-blocking kinds whose
// completion never gates round progress.
type JobKind string

const (
	JobKindStatusUpdate JobKind = "status_update"
	JobKindGuidance     JobKind = "guidance"
	JobKindSummarize    JobKind = "summarize"
)

// Blocking reports whether this job kind gates its round.
func (k JobKind) Blocking() bool {
	return k == JobKindStatusUpdate
}

// JobStatus is a job's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobEnqueued  JobStatus = "enqueued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Message is one chat turn recorded on a round.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is an immutable point-in-time copy of session state,
// anchored to the round that produced it.
type Snapshot struct {
	ID        string         `json:"id"`
	RoundNo   int            `json:"round_no"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// Round is one turn of a branch's conversation.
type Round struct {
	RoundNo    int         `json:"round_no"`
	Status     RoundStatus `json:"status"`
	Blockers   []string    `json:"blockers,omitempty"`
	Messages   []Message   `json:"messages,omitempty"`
	LLMReply   string      `json:"llm_reply,omitempty"`
	Items      []map[string]any `json:"items,omitempty"`
	Metrics    map[string]any   `json:"metrics,omitempty"`
	Logs       []string         `json:"logs,omitempty"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Branch is an independently-reroll-able/forkable sequence of rounds.
type Branch struct {
	ID             string             `json:"id"`
	ParentBranchID string             `json:"parent_branch_id,omitempty"`
	ForkedAtRound  int                `json:"forked_at_round,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	Rounds         []*Round           `json:"rounds"`
	Snapshots      map[string]*Snapshot `json:"snapshots"`
}

// LatestRound returns the branch's highest round_no, or nil if empty.
func (b *Branch) LatestRound() *Round {
	if len(b.Rounds) == 0 {
		return nil
	}
	return b.Rounds[len(b.Rounds)-1]
}

// Round looks up a round by number.
func (b *Branch) Round(roundNo int) *Round {
	for _, r := range b.Rounds {
		if r.RoundNo == roundNo {
			return r
		}
	}
	return nil
}

// Job is one unit of asynchronous work tied to a round.
type Job struct {
	ID             string         `json:"id"`
	Kind           JobKind        `json:"kind"`
	BranchID       string         `json:"branch_id"`
	RoundNo        int            `json:"round_no"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         JobStatus      `json:"status"`
	Payload        map[string]any `json:"payload,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Attempts       int            `json:"attempts"`
	HeartbeatAt    time.Time      `json:"heartbeat_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// OutboxEntry marks a job as needing dispatch (external enqueue, or
// inline execution by the poller when the Null queue is active).
type OutboxEntry struct {
	JobID    string `json:"job_id"`
	Enqueued bool   `json:"enqueued"`
}

// Session is the single canonical document persisted per session id.
type Session struct {
	ID             string             `json:"id"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	ActiveBranchID string             `json:"active_branch_id"`
	LSSState       map[string]any     `json:"lss_state"`
	Branches       map[string]*Branch `json:"branches"`
	Jobs           map[string]*Job    `json:"jobs"`
	Outbox         []OutboxEntry      `json:"outbox"`
}

// ActiveBranch returns the session's currently active branch, or nil.
func (s *Session) ActiveBranch() *Branch {
	return s.Branches[s.ActiveBranchID]
}

// Clone deep-copies a session document so callers holding a loaded
// snapshot cannot observe or cause concurrent mutation.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		ActiveBranchID: s.ActiveBranchID,
		LSSState:       cloneAnyMap(s.LSSState),
		Branches:       make(map[string]*Branch, len(s.Branches)),
		Jobs:           make(map[string]*Job, len(s.Jobs)),
		Outbox:         append([]OutboxEntry(nil), s.Outbox...),
	}
	for id, b := range s.Branches {
		out.Branches[id] = cloneBranch(b)
	}
	for id, j := range s.Jobs {
		cp := *j
		cp.Payload = cloneAnyMap(j.Payload)
		cp.Result = cloneAnyMap(j.Result)
		out.Jobs[id] = &cp
	}
	return out
}

func cloneBranch(b *Branch) *Branch {
	cp := &Branch{
		ID:             b.ID,
		ParentBranchID: b.ParentBranchID,
		ForkedAtRound:  b.ForkedAtRound,
		CreatedAt:      b.CreatedAt,
		Rounds:         make([]*Round, len(b.Rounds)),
		Snapshots:      make(map[string]*Snapshot, len(b.Snapshots)),
	}
	for i, r := range b.Rounds {
		rc := *r
		rc.Blockers = append([]string(nil), r.Blockers...)
		rc.Messages = append([]Message(nil), r.Messages...)
		rc.Items = nil
		for _, it := range r.Items {
			rc.Items = append(rc.Items, cloneAnyMap(it))
		}
		rc.Metrics = cloneAnyMap(r.Metrics)
		rc.Logs = append([]string(nil), r.Logs...)
		cp.Rounds[i] = &rc
	}
	for id, snap := range b.Snapshots {
		sc := *snap
		sc.State = cloneAnyMap(snap.State)
		cp.Snapshots[id] = &sc
	}
	return cp
}

// cloneAnyMap deep-copies m so a Clone()d Session never shares a
// nested map/slice value with the original, matching §4.5's "returned
// values are deep copies".
func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAnyValue(v)
	}
	return out
}

func cloneAnyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAnyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = cloneAnyValue(vv)
		}
		return out
	default:
		return val
	}
}
