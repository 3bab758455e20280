// Package exec defines the NodeContext/NodeResult contract atomic nodes
// run under and the safe_run wrapper that shields the executor from a
// misbehaving node. The Sequence/If/Subflow composite interpreter lives
// in package interp.
package exec

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/flowforge/internal/flow/types"
)

// NodeContext is the execution context injected into every atomic
// node's Run method by the executor: session identity, access to the
// state manager, a pool of shared resources (LLM adapter, code
// functions, ...), and a logger.
type NodeContext struct {
	Ctx context.Context

	SessionID string
	BranchID  string
	RoundNo   int

	State StateAccessor

	Resources map[string]any
	Logger    *slog.Logger
}

// StateAccessor is the subset of the State Manager an atomic node is
// allowed to touch (ReadState/WriteState/IncrementCounter nodes).
type StateAccessor interface {
	GetForPrompt(keys ...string) map[string]any
	GetWorking(keys ...string) map[string]any
	UpdateSync(updates map[string]any)
}

// Resource fetches a named shared resource, or nil if absent.
func (c NodeContext) Resource(name string) any {
	if c.Resources == nil {
		return nil
	}
	return c.Resources[name]
}

// NodeResult is what an atomic node's Run method returns: the items it
// produced, any log lines worth surfacing, and execution metrics. Errors
// is populated only by safe_run when a node panics or returns an error;
// a well-behaved node never sets it itself.
type NodeResult struct {
	Items   types.Items
	Logs    []string
	Metrics map[string]any
	Errors  []string
}

// Node is the interface every atomic node type implements. Run must not
// mutate the items slice it receives in place; it should produce fresh
// items instead.
type Node interface {
	TypeName() string
	Run(items types.Items, ctx NodeContext) (NodeResult, error)
}

// SafeRun wraps a Node's Run call so that a failing node never aborts
// the enclosing flow: on error it logs the failure and returns the
// input items unchanged plus an error-prefixed log entry, exactly as
// the node contract promises.
func SafeRun(n Node, items types.Items, ctx NodeContext) (result NodeResult) {
	start := time.Now()
	normalized := types.EnsureItems(items)

	defer func() {
		if r := recover(); r != nil {
			result = failureResult(n, normalized, start, fmtPanic(r))
			if ctx.Logger != nil {
				ctx.Logger.Error("node panicked", "type", n.TypeName(), "recover", r)
			}
		}
	}()

	out, err := n.Run(normalized, ctx)
	if err != nil {
		if ctx.Logger != nil {
			ctx.Logger.Error("node failed", "type", n.TypeName(), "err", err)
		}
		return failureResult(n, normalized, start, err.Error())
	}

	if out.Metrics == nil {
		out.Metrics = map[string]any{}
	}
	setDefault(out.Metrics, "type", n.TypeName())
	setDefault(out.Metrics, "duration_ms", time.Since(start).Milliseconds())
	setDefault(out.Metrics, "items_in", len(normalized))
	setDefault(out.Metrics, "items_out", len(out.Items))
	return out
}

func failureResult(n Node, items types.Items, start time.Time, msg string) NodeResult {
	return NodeResult{
		Items: items,
		Logs:  []string{"error:" + msg},
		Metrics: map[string]any{
			"type":        n.TypeName(),
			"duration_ms": time.Since(start).Milliseconds(),
			"items_in":    len(items),
			"items_out":   len(items),
		},
		Errors: []string{msg},
	}
}

func setDefault(m map[string]any, key string, val any) {
	if _, ok := m[key]; !ok {
		m[key] = val
	}
}

func fmtPanic(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic: " + toString(r)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown"
}
