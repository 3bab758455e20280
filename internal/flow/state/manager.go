// Package state implements the dual-state State Manager (C5): a
// Working state and a Last Stable State (LSS), with pending-key
// fallback so prompt-facing reads never observe a half-updated key
// while it is being refreshed asynchronously by a background job.
//
// Grounded on original_source/flow/state_manager.py's StateManager,
// ported from its two Python locks (_state_lock, _pending_lock) to a
// single sync.Mutex guarding both maps plus the pending set.
package state

import "sync"

// Manager owns a session's Working and LSS state maps.
type Manager struct {
	mu      sync.Mutex
	working map[string]any
	lss     map[string]any
	pending map[string]bool
}

// New creates a Manager seeded with an initial LSS (e.g. loaded from
// the Session Store); Working starts as a copy of it.
func New(initial map[string]any) *Manager {
	lss := cloneMap(initial)
	return &Manager{
		working: cloneMap(initial),
		lss:     lss,
		pending: make(map[string]bool),
	}
}

// GetWorking returns a copy of the requested keys (or the whole
// Working state if keys is empty) for node-local reads that want the
// latest, possibly-in-flight values.
func (m *Manager) GetWorking(keys ...string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return selectKeys(m.working, keys)
}

// GetForPrompt returns the state view a prompt/template should see:
// Working values, except any key currently pending an async refresh
// falls back to its last stable value so an in-flight update never
// leaks a half-formed value into a rendered prompt.
func (m *Manager) GetForPrompt(keys ...string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := selectKeys(m.working, keys)
	for k := range m.pending {
		if len(keys) > 0 && !contains(keys, k) {
			continue
		}
		if v, ok := m.lss[k]; ok {
			out[k] = v
		} else {
			delete(out, k)
		}
	}
	return out
}

// UpdateSync writes updates into both Working and LSS atomically,
// without touching the pending set — for synchronous node writes
// (WriteState, IncrementCounter) that complete within the request.
func (m *Manager) UpdateSync(updates map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range updates {
		m.working[k] = v
		m.lss[k] = v
	}
}

// StartAsyncUpdate marks keys as pending: until CompleteAsyncUpdate or
// CancelAsyncUpdate clears them, GetForPrompt serves the LSS value for
// these keys instead of the Working one.
func (m *Manager) StartAsyncUpdate(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.pending[k] = true
	}
}

// CompleteAsyncUpdate writes the refreshed values into both Working and
// LSS and clears their pending flag.
func (m *Manager) CompleteAsyncUpdate(updates map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range updates {
		m.working[k] = v
		m.lss[k] = v
		delete(m.pending, k)
	}
}

// CancelAsyncUpdate clears the pending flag without writing values,
// used when a background job fails and the caller wants prompts to
// keep reading the old LSS value rather than wait forever.
func (m *Manager) CancelAsyncUpdate(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.pending, k)
	}
}

// Snapshot returns the current LSS, suitable for persisting to the
// Session Store.
func (m *Manager) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneMap(m.lss)
}

// Pending reports which keys are currently mid-async-refresh.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for k := range m.pending {
		out = append(out, k)
	}
	return out
}

// cloneMap deep-copies a state map so Working/LSS/returned snapshots
// never alias the same nested map/slice value, matching §3's
// "Working := deep-copy(LSS)" and original_source/flow/state_manager.py's
// copy.deepcopy() at every analogous call site.
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

func selectKeys(src map[string]any, keys []string) map[string]any {
	if len(keys) == 0 {
		return cloneMap(src)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
