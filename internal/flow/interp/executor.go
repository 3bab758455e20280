// Package interp implements the Executor (C4): the Sequence/If/Subflow
// composite interpreter that walks an IR document, dispatching atomic
// node types through the Node Registry and composite types through its
// own recursive evaluation, grounded in shape on the teacher's
// internal/runtime engine and in exact composite semantics on
// original_source/flow/executor.py.
package interp

import (
	"fmt"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/expr"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/registry"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/aretw0/flowforge/internal/metrics"
)

// DefaultMaxDepth caps Subflow recursion when the caller does not
// override it, guarding against a flow document referencing itself.
const DefaultMaxDepth = 32

// Executor runs a registered flow document against an item stream.
type Executor struct {
	Registry *registry.Registry
	Loader   *ir.Loader
	MaxDepth int
}

// New builds an Executor with the spec's default recursion cap.
func New(reg *registry.Registry, loader *ir.Loader) *Executor {
	return &Executor{Registry: reg, Loader: loader, MaxDepth: DefaultMaxDepth}
}

// Validate checks a decoded document against the IR schema plus the
// referential checks NodeMap performs (unknown ids, duplicate ids,
// missing entry), without registering or running it.
func (e *Executor) Validate(doc ir.Document) (bool, string) {
	if err := ir.ValidateDocument(doc); err != nil {
		return false, err.Error()
	}
	nodeMap, err := doc.NodeMap()
	if err != nil {
		return false, entryNotFoundOr(doc, err)
	}
	for _, n := range doc.Nodes {
		if err := validateReferences(n, nodeMap); err != nil {
			return false, err.Error()
		}
	}
	return true, ""
}

// entryNotFoundOr normalizes NodeMap's entry-missing error to the
// exact "entry not found" string the spec's validate scenario (§8.6)
// expects, while passing through any other NodeMap failure verbatim.
func entryNotFoundOr(doc ir.Document, err error) string {
	for _, n := range doc.Nodes {
		if n.ID == doc.Entry {
			return err.Error()
		}
	}
	return "entry not found"
}

func validateReferences(n ir.NodeSpec, nodeMap map[string]ir.NodeSpec) error {
	switch n.Type {
	case ir.TypeSequence:
		for _, childID := range n.Children {
			if _, ok := nodeMap[childID]; !ok {
				return apperr.New(apperr.KindSchema, fmt.Sprintf("sequence %q: unknown child id %q", n.ID, childID))
			}
		}
	case ir.TypeIf:
		for _, id := range n.Then {
			if _, ok := nodeMap[id]; !ok {
				return apperr.New(apperr.KindSchema, fmt.Sprintf("if %q: unknown then id %q", n.ID, id))
			}
		}
		for _, id := range n.Else {
			if _, ok := nodeMap[id]; !ok {
				return apperr.New(apperr.KindSchema, fmt.Sprintf("if %q: unknown else id %q", n.ID, id))
			}
		}
	}
	return nil
}

// ExecuteRef runs the flow registered under ref starting at its entry
// node.
func (e *Executor) ExecuteRef(ref string, items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	doc, err := e.Loader.Get(ref)
	if err != nil {
		return exec.NodeResult{}, err
	}
	nodeMap, err := e.Loader.NodeMap(ref)
	if err != nil {
		return exec.NodeResult{}, err
	}
	return e.runNode(doc.Entry, nodeMap, items, ctx, 0)
}

func (e *Executor) runNode(nodeID string, nodeMap map[string]ir.NodeSpec, items types.Items, ctx exec.NodeContext, depth int) (exec.NodeResult, error) {
	spec, ok := nodeMap[nodeID]
	if !ok {
		return exec.NodeResult{}, apperr.New(apperr.KindSchema, fmt.Sprintf("node %q not found in flow", nodeID))
	}

	switch spec.Type {
	case ir.TypeSequence:
		return e.runSequence(spec, nodeMap, items, ctx, depth)
	case ir.TypeIf:
		return e.runIf(spec, nodeMap, items, ctx, depth)
	case ir.TypeSubflow:
		return e.runSubflow(spec, items, ctx, depth)
	default:
		return e.runAtomic(spec, items, ctx)
	}
}

func (e *Executor) runAtomic(spec ir.NodeSpec, items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	node, err := e.Registry.Build(spec.Type, spec.Params)
	if err != nil {
		return exec.NodeResult{}, err
	}
	metrics.NodesRun.WithLabelValues(spec.Type).Inc()
	return exec.SafeRun(node, items, ctx), nil
}

// runSequence threads items through its children in order, abort-on-
// failure: per §4.2/§4.4, a child NodeResult carrying Errors counts as
// a node failure even though SafeRun never surfaces it as a Go error,
// so each child's Errors must be checked explicitly. On failure the
// Sequence stops and returns the last successful items, with logs and
// metrics accumulated up to and including the failing child.
func (e *Executor) runSequence(spec ir.NodeSpec, nodeMap map[string]ir.NodeSpec, items types.Items, ctx exec.NodeContext, depth int) (exec.NodeResult, error) {
	return e.runChildSequence(spec.ID, spec.Children, nodeMap, items, ctx, depth)
}

// runChildSequence is the abort-on-failure child-running loop shared by
// Sequence and by If, which runs its then/else id list as an implicit
// Sequence (§4.4).
func (e *Executor) runChildSequence(ownerID string, childIDs []string, nodeMap map[string]ir.NodeSpec, items types.Items, ctx exec.NodeContext, depth int) (exec.NodeResult, error) {
	current := items
	lastGood := items
	var logs []string
	metrics := map[string]any{}
	var errs []string

	for _, childID := range childIDs {
		result, err := e.runNode(childID, nodeMap, current, ctx, depth)
		if err != nil {
			return exec.NodeResult{}, fmt.Errorf("sequence %q: child %q: %w", ownerID, childID, err)
		}
		logs = exec.MergeLogs(logs, result.Logs)
		metrics = exec.MergeMetrics(metrics, result.Metrics)
		errs = append(errs, result.Errors...)
		if len(result.Errors) > 0 {
			return exec.NodeResult{Items: lastGood, Logs: logs, Metrics: metrics, Errors: errs}, nil
		}
		current = result.Items
		lastGood = current
	}

	return exec.NodeResult{Items: current, Logs: logs, Metrics: metrics, Errors: errs}, nil
}

func (e *Executor) runIf(spec ir.NodeSpec, nodeMap map[string]ir.NodeSpec, items types.Items, ctx exec.NodeContext, depth int) (exec.NodeResult, error) {
	scope := map[string]any{
		"items": itemsToAny(items),
	}
	if len(items) > 0 {
		scope["item"] = map[string]any(items[0])
	}
	if ctx.State != nil {
		scope["state"] = ctx.State.GetForPrompt()
	}

	truthy, err := expr.EvalCond(spec.Cond, scope)
	if err != nil {
		return exec.NodeResult{}, fmt.Errorf("if %q: %w", spec.ID, err)
	}

	branch := spec.Else
	if truthy {
		branch = spec.Then
	}
	if len(branch) == 0 {
		// No branch configured for this outcome: pass items through
		// unchanged, matching a no-op else/then.
		return exec.NodeResult{Items: items}, nil
	}
	return e.runChildSequence(spec.ID, branch, nodeMap, items, ctx, depth)
}

func itemsToAny(items types.Items) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = map[string]any(it)
	}
	return out
}
