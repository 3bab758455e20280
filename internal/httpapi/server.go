// Package httpapi hand-wires the §6.1 HTTP surface onto go-chi/chi/v5,
// in the teacher's internal/adapters/http handler-per-route style
// (JSON decode/encode, http.Error on failure) — without the teacher's
// oapi-codegen generation step, which this task cannot run (see
// DESIGN.md).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/chat"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/state"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/aretw0/flowforge/internal/llm"
	"github.com/aretw0/flowforge/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles every dependency a route handler needs: the flow
// Executor/Loader pair for /api/flow/*, the Chat Pipeline for
// /api/chat/*, and the traffic recorder for /api/debug/traffic.
type Server struct {
	Executor  *interp.Executor
	Loader    *ir.Loader
	FlowDirs  []string
	Pipeline  *chat.Pipeline
	Recorder  *llm.TrafficRecorder
	Resources map[string]any
	Logger    *slog.Logger
}

// NewRouter builds the chi router mounting every §6.1 route, plus a
// CORS-enabling middleware matching pkg/adapters/http/server.go's
// enableCORS wrapper so a browser-based debug console can call it
// cross-origin.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Post("/api/flow/run", s.handleFlowRun)
	r.Post("/api/flow/validate", s.handleFlowValidate)
	r.Post("/api/flow/reload", s.handleFlowReload)

	r.Post("/api/chat/session/start", s.handleSessionStart)
	r.Post("/api/chat/send", s.handleChatSend)
	r.Get("/api/chat/round/{session}/{branch}/{round}/status", s.handleRoundStatus)
	r.Post("/api/chat/round/reroll", s.handleReroll)
	r.Post("/api/chat/branch", s.handleBranch)

	r.Get("/api/debug/traffic", s.handleDebugTrafficList)
	r.Post("/api/debug/traffic/clear", s.handleDebugTrafficClear)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status, logging (not failing the
// response) on an encode error the way the teacher's Render/Navigate
// handlers do.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("httpapi: encode response failed", "err", err)
	}
}

// writeError maps err to its apperr Kind's HTTP status and writes the
// §6.1/§7 `{"detail": "..."}` error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	s.writeJSON(w, status, map[string]any{"detail": err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindSchema, "decode request body", err)
	}
	return nil
}

// --- /api/flow/* -----------------------------------------------------

type flowRunRequest struct {
	Ref           string           `json:"ref"`
	Items         []map[string]any `json:"items"`
	InitialState  map[string]any   `json:"initial_state"`
	UseWorldState bool             `json:"use_world_state"`
	SessionID     string           `json:"session_id"`
	Resources     map[string]any   `json:"resources"`
}

type flowRunResponse struct {
	Items         []map[string]any `json:"items"`
	Logs          []string         `json:"logs"`
	Metrics       map[string]any   `json:"metrics"`
	Errors        []string         `json:"errors,omitempty"`
	StateSnapshot map[string]any   `json:"state_snapshot"`
}

// handleFlowRun runs a registered flow document against an inline item
// batch. When use_world_state is set alongside session_id, the State
// Manager is seeded from that session's persisted LSS (mirroring
// handleSessionStart's GetForPrompt pattern) instead of starting cold;
// initial_state always applies on top of whatever seed was chosen.
func (s *Server) handleFlowRun(w http.ResponseWriter, r *http.Request) {
	var req flowRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	seed := map[string]any{}
	if req.UseWorldState && req.SessionID != "" {
		sess, err := s.Pipeline.Store.LoadSession(req.SessionID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		seed = sess.LSSState
	}
	mgr := state.New(seed)
	if len(req.InitialState) > 0 {
		mgr.UpdateSync(req.InitialState)
	}

	resources := s.Resources
	if len(req.Resources) > 0 {
		resources = make(map[string]any, len(s.Resources)+len(req.Resources))
		for k, v := range s.Resources {
			resources[k] = v
		}
		for k, v := range req.Resources {
			resources[k] = v
		}
	}

	nodeCtx := exec.NodeContext{
		Ctx:       r.Context(),
		SessionID: req.SessionID,
		State:     mgr,
		Resources: resources,
		Logger:    s.Logger,
	}
	result, err := s.Executor.ExecuteRef(req.Ref, mapsToItems(req.Items), nodeCtx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, flowRunResponse{
		Items:         itemsToMaps(result.Items),
		Logs:          result.Logs,
		Metrics:       result.Metrics,
		Errors:        result.Errors,
		StateSnapshot: mgr.Snapshot(),
	})
}

type flowValidateRequest struct {
	Document ir.Document `json:"doc"`
}

type flowValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleFlowValidate(w http.ResponseWriter, r *http.Request) {
	var req flowValidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	valid, errMsg := s.Executor.Validate(req.Document)
	s.writeJSON(w, http.StatusOK, flowValidateResponse{Valid: valid, Error: errMsg})
}

type flowReloadRequest struct {
	Dirs []string `json:"dirs"`
}

type flowReloadResponse struct {
	Flows     []string `json:"flows"`
	NodeTypes []string `json:"node_types"`
}

func (s *Server) handleFlowReload(w http.ResponseWriter, r *http.Request) {
	var req flowReloadRequest
	_ = decodeBody(r, &req) // an empty/absent body means "use the configured dirs"

	dirs := s.FlowDirs
	if len(req.Dirs) > 0 {
		dirs = req.Dirs
	}
	if _, err := s.Loader.Reload(dirs); err != nil {
		s.writeError(w, err)
		return
	}
	nodeTypes := append([]string{ir.TypeSequence, ir.TypeIf, ir.TypeSubflow}, s.Executor.Registry.KnownTypes()...)
	s.writeJSON(w, http.StatusOK, flowReloadResponse{
		Flows:     s.Loader.ListFlows(),
		NodeTypes: nodeTypes,
	})
}

// --- /api/chat/* -------------------------------------------------------

type sessionStartRequest struct {
	InitialState map[string]any `json:"initial_state"`
}

type sessionStartResponse struct {
	SessionID     string         `json:"session_id"`
	BranchID      string         `json:"branch_id"`
	StateSnapshot map[string]any `json:"state_snapshot"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sess, branch, err := s.Pipeline.Store.CreateSession(req.InitialState)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mgr := state.New(sess.LSSState)
	s.writeJSON(w, http.StatusOK, sessionStartResponse{
		SessionID:     sess.ID,
		BranchID:      branch.ID,
		StateSnapshot: mgr.GetForPrompt(),
	})
}

type chatSendRequest struct {
	SessionID string         `json:"session_id"`
	BranchID  string         `json:"branch_id"`
	UserInput string         `json:"user_input"`
	Ref       string         `json:"ref"`
	Extras    map[string]any `json:"extras"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ref := req.Ref
	if ref == "" {
		ref = "main@1"
	}
	result, err := s.Pipeline.Send(r.Context(), req.SessionID, req.BranchID, req.UserInput, ref, req.Extras)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sendResultResponse(result))
}

func (s *Server) handleRoundStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	branchID := chi.URLParam(r, "branch")
	roundNo, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		s.writeError(w, apperr.New(apperr.KindSchema, "round must be an integer"))
		return
	}
	status, blockers, err := s.Pipeline.RoundStatus(sessionID, branchID, roundNo)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"round_no": roundNo,
		"status":   status,
		"blockers": blockers,
	})
}

type rerollRequest struct {
	SessionID string         `json:"session_id"`
	BranchID  string         `json:"branch_id"`
	RoundNo   int            `json:"round_no"`
	Ref       string         `json:"ref"`
	Extras    map[string]any `json:"extras"`
}

func (s *Server) handleReroll(w http.ResponseWriter, r *http.Request) {
	var req rerollRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ref := req.Ref
	if ref == "" {
		ref = "main@1"
	}
	result, err := s.Pipeline.Reroll(r.Context(), req.SessionID, req.BranchID, req.RoundNo, ref, req.Extras)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sendResultResponse(result))
}

type branchRequest struct {
	SessionID      string `json:"session_id"`
	ParentBranchID string `json:"parent_branch_id"`
	FromRound      int    `json:"from_round"`
	SetActive      bool   `json:"set_active"`
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.Pipeline.Branch(req.SessionID, req.ParentBranchID, req.FromRound, req.SetActive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"branch_id": result.BranchID})
}

// --- /api/debug/traffic ------------------------------------------------

func (s *Server) handleDebugTrafficList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.Recorder.List(limit)})
}

func (s *Server) handleDebugTrafficClear(w http.ResponseWriter, r *http.Request) {
	s.Recorder.Clear()
	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// --- shared mapping helpers --------------------------------------------

func sendResultResponse(result *chat.SendResult) map[string]any {
	return map[string]any{
		"round_no":       result.RoundNo,
		"snapshot_id":    result.SnapshotID,
		"llm_reply":      result.LLMReply,
		"items":          itemsToMaps(result.Items),
		"logs":           result.Logs,
		"metrics":        result.Metrics,
		"state_snapshot": result.StateView,
		"round_status": map[string]any{
			"status":   result.RoundStatus,
			"blockers": result.Blockers,
		},
	}
}

func mapsToItems(in []map[string]any) types.Items {
	out := make(types.Items, len(in))
	for i, m := range in {
		out[i] = types.Item(m)
	}
	return out
}

func itemsToMaps(items types.Items) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = map[string]any(it)
	}
	return out
}
