package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/flowforge/internal/chat"
	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/nodes"
	"github.com/aretw0/flowforge/internal/flow/registry"
	"github.com/aretw0/flowforge/internal/httpapi"
	"github.com/aretw0/flowforge/internal/job"
	"github.com/aretw0/flowforge/internal/llm"
	"github.com/aretw0/flowforge/internal/llm/mock"
	"github.com/aretw0/flowforge/internal/session/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainFlowJSON = `{
		"id": "main", "version": 1, "entry": "seq",
		"nodes": [
			{"id": "narrate", "type": "LLMChat", "params": {"model": "narrator", "response_field": "llm_response"}},
			{"id": "bump", "type": "IncrementCounter", "params": {"key": "turn_count"}},
			{"id": "seq", "type": "Sequence", "children": ["narrate", "bump"]}
		]
	}`
	statusUpdateFlowJSON = `{
		"id": "status_update", "version": 1, "entry": "write",
		"nodes": [{"id": "write", "type": "WriteState", "params": {"from_item_map": {"text": "last_status_text"}}}]
	}`
	guidanceFlowJSON = `{
		"id": "guidance", "version": 1, "entry": "write",
		"nodes": [{"id": "write", "type": "WriteState", "params": {"from_item_map": {"text": "last_guidance"}}}]
	}`
)

// newTestServer writes the bundled flow documents to disk and loads
// them through the real LoadDirs path (rather than Loader.Register)
// so FlowDirs stays meaningful across a /api/flow/reload round trip.
func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"main.json":          mainFlowJSON,
		"status_update.json": statusUpdateFlowJSON,
		"guidance.json":      guidanceFlowJSON,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	reg := registry.New()
	nodes.RegisterBuiltins(reg)
	loader := ir.NewLoader(nil)
	_, err := loader.LoadDirs([]string{dir})
	require.NoError(t, err)

	executor := interp.New(reg, loader)
	resources := map[string]any{"llm": mock.Adapter{}}
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	w := job.NewWorker(st, executor, resources, nil)
	pipeline := chat.New(st, executor, job.NullQueue{}, w, resources, nil)

	srv := &httpapi.Server{
		Executor:  executor,
		Loader:    loader,
		FlowDirs:  []string{dir},
		Pipeline:  pipeline,
		Recorder:  llm.NewTrafficRecorder(10),
		Resources: resources,
	}
	return srv.NewRouter()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_FlowValidateRejectsUnknownEntry(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/api/flow/validate", map[string]any{
		"doc": map[string]any{"id": "x", "version": 1, "entry": "nope", "nodes": []any{}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["valid"].(bool))
	assert.Contains(t, resp["error"], "entry")
}

func TestServer_FlowRunReturnsItemsAndStateSnapshot(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/api/flow/run", map[string]any{
		"ref":           "main@1",
		"items":         []map[string]any{{"user_input": "enter tavern"}},
		"initial_state": map[string]any{"turn_count": 0},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	items, ok := resp["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].(map[string]any)["llm_response"])

	snapshot, ok := resp["state_snapshot"].(map[string]any)
	require.True(t, ok, "flow/run must return a state_snapshot object, not state")
	assert.Equal(t, float64(1), snapshot["turn_count"])
}

func TestServer_FlowRunWithUseWorldStateLoadsSessionLSS(t *testing.T) {
	h := newTestServer(t)

	startRec := postJSON(t, h, "/api/chat/session/start", map[string]any{
		"initial_state": map[string]any{"turn_count": 7},
	})
	require.Equal(t, http.StatusOK, startRec.Code)
	var started map[string]any
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	sessionID := started["session_id"].(string)

	rec := postJSON(t, h, "/api/flow/run", map[string]any{
		"ref":             "main@1",
		"items":           []map[string]any{{"user_input": "enter tavern"}},
		"session_id":      sessionID,
		"use_world_state": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	snapshot := resp["state_snapshot"].(map[string]any)
	assert.Equal(t, float64(8), snapshot["turn_count"], "use_world_state must seed from the session's persisted LSS (7) before bump runs")
}

func TestServer_SessionStartThenSendReturnsFirstRound(t *testing.T) {
	h := newTestServer(t)

	startRec := postJSON(t, h, "/api/chat/session/start", map[string]any{
		"initial_state": map[string]any{"turn_count": 0},
	})
	require.Equal(t, http.StatusOK, startRec.Code)
	var started map[string]any
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	sessionID := started["session_id"].(string)
	branchID := started["branch_id"].(string)
	require.NotEmpty(t, sessionID)
	startSnapshot, ok := started["state_snapshot"].(map[string]any)
	require.True(t, ok, "session/start must return a state_snapshot object")
	assert.Equal(t, float64(0), startSnapshot["turn_count"])

	sendRec := postJSON(t, h, "/api/chat/send", map[string]any{
		"session_id": sessionID,
		"branch_id":  branchID,
		"user_input": "enter tavern",
		"ref":        "main@1",
	})
	require.Equal(t, http.StatusOK, sendRec.Code)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(sendRec.Body.Bytes(), &sent))
	assert.Equal(t, float64(1), sent["round_no"])
	assert.NotEmpty(t, sent["llm_reply"])
	_, hasSnapshot := sent["state_snapshot"]
	assert.True(t, hasSnapshot, "send response must carry state_snapshot, not state")
	roundStatus, ok := sent["round_status"].(map[string]any)
	require.True(t, ok, "round_status must be an object with status/blockers")
	assert.Contains(t, roundStatus, "status")
	assert.Contains(t, roundStatus, "blockers")
}

func TestServer_ChatSendUnknownSessionIs404(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/api/chat/send", map[string]any{
		"session_id": "sess_nope",
		"user_input": "hi",
		"ref":        "main@1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_FlowReloadReportsFlowsAndNodeTypes(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/api/flow/reload", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	flows := toStringSlice(resp["flows"])
	assert.Contains(t, flows, "main@1")
	assert.Contains(t, flows, "status_update@1")

	nodeTypes := toStringSlice(resp["node_types"])
	for _, want := range []string{"Sequence", "If", "Subflow", "Code", "LLMChat", "ReadState", "WriteState", "IncrementCounter", "Map", "Filter", "Merge", "Split"} {
		assert.Contains(t, nodeTypes, want)
	}
}

func toStringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
