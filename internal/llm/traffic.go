package llm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrafficEvent is one captured outbound call to an LLM adapter, in
// the shape the §6.1 debug console endpoint reports.
type TrafficEvent struct {
	ID        string         `json:"id"`
	Ts        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Service   string         `json:"service"`
	Method    string         `json:"method,omitempty"`
	Model     string         `json:"model,omitempty"`
	ReqBody   map[string]any `json:"req_body,omitempty"`
	Status    int            `json:"status,omitempty"`
	ElapsedMs int64          `json:"elapsed_ms,omitempty"`
	RespBody  map[string]any `json:"resp_body,omitempty"`
	Error     string         `json:"error,omitempty"`
	PairID    string         `json:"pair_id,omitempty"`
}

// TrafficRecorder is a bounded, process-wide ring buffer of captured
// LLM traffic, consumed by GET /api/debug/traffic — an explicit
// engine-context-held singleton rather than a hidden package global,
// per the spec's §9 design note on process-wide state.
type TrafficRecorder struct {
	mu     sync.Mutex
	events []TrafficEvent
	cap    int
}

// NewTrafficRecorder builds a recorder that keeps at most capacity
// events, dropping the oldest once full.
func NewTrafficRecorder(capacity int) *TrafficRecorder {
	if capacity <= 0 {
		capacity = 500
	}
	return &TrafficRecorder{cap: capacity}
}

func (r *TrafficRecorder) record(ev TrafficEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// List returns the most recent limit events, newest last (limit<=0
// returns everything buffered).
func (r *TrafficRecorder) List(limit int) []TrafficEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit >= len(r.events) {
		out := make([]TrafficEvent, len(r.events))
		copy(out, r.events)
		return out
	}
	out := make([]TrafficEvent, limit)
	copy(out, r.events[len(r.events)-limit:])
	return out
}

// Clear empties the buffer.
func (r *TrafficRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// RecordingAdapter wraps another Adapter, capturing every call into a
// TrafficRecorder for the debug console — it never changes behavior,
// only observes it.
type RecordingAdapter struct {
	Inner    Adapter
	Recorder *TrafficRecorder
}

func (a RecordingAdapter) Chat(ctx context.Context, modelAlias string, messages []Message) (Reply, error) {
	start := time.Now()
	reqID := uuid.NewString()
	reply, err := a.Inner.Chat(ctx, modelAlias, messages)
	ev := TrafficEvent{
		ID:        reqID,
		Ts:        start,
		Type:      "llm_chat",
		Service:   "llm",
		Method:    "chat",
		Model:     modelAlias,
		ReqBody:   map[string]any{"messages": messagesToAny(messages)},
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Status = 200
		ev.RespBody = map[string]any{"content": reply.Content}
	}
	a.Recorder.record(ev)
	return reply, err
}

func messagesToAny(messages []Message) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
