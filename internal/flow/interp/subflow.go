package interp

import (
	"fmt"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/state"
	"github.com/aretw0/flowforge/internal/flow/types"
)

// runSubflow dispatches to another registered flow document, applying
// the spec's explicit input_map/output_map/share_items contract (§4.4):
// this supersedes original_source/flow/executor.py's always-copy-
// everything behavior, which the spec's explicit wording overrides —
// the original's index-aligned merge technique is kept for output_map.
func (e *Executor) runSubflow(spec ir.NodeSpec, items types.Items, ctx exec.NodeContext, depth int) (exec.NodeResult, error) {
	if depth+1 > e.MaxDepth {
		return exec.NodeResult{}, apperr.New(apperr.KindInternal, fmt.Sprintf("subflow %q: max recursion depth %d exceeded", spec.ID, e.MaxDepth))
	}
	if spec.FlowRef == "" {
		return exec.NodeResult{}, apperr.New(apperr.KindSchema, fmt.Sprintf("subflow %q: flow_ref is required", spec.ID))
	}

	childInput := applyInputMap(items, spec.InputMap, spec.ShareItems)

	doc, err := e.Loader.Get(spec.FlowRef)
	if err != nil {
		return exec.NodeResult{}, fmt.Errorf("subflow %q: %w", spec.ID, err)
	}
	nodeMap, err := e.Loader.NodeMap(spec.FlowRef)
	if err != nil {
		return exec.NodeResult{}, fmt.Errorf("subflow %q: %w", spec.ID, err)
	}

	childCtx := ctx
	if !spec.ShareStateOrDefault() && ctx.State != nil {
		// A scratch StateManager seeded from the parent's current
		// working view; any writes the subflow makes are discarded
		// when it returns since nothing merges this instance back.
		childCtx.State = state.New(ctx.State.GetWorking())
	}

	result, err := e.runNode(doc.Entry, nodeMap, childInput, childCtx, depth+1)
	if err != nil {
		return exec.NodeResult{}, fmt.Errorf("subflow %q: %w", spec.ID, err)
	}

	result.Items = applyOutputMap(items, result.Items, spec.OutputMap)
	return result, nil
}

// applyInputMap builds the item sequence handed to a subflow's entry
// node.
//
//   - input_map absent: each child item is a deep copy (Item.Clone)
//     of the parent item (share_items has no effect — there is nothing to
//     restrict).
//   - input_map given, share_items false (spec default): the child
//     item contains ONLY the mapped destination fields.
//   - input_map given, share_items true: the child item is a full copy
//     of the parent item with the mapped fields overlaid on top.
func applyInputMap(items types.Items, inputMap map[string]string, shareItems bool) types.Items {
	out := make(types.Items, len(items))
	for i, item := range items {
		if len(inputMap) == 0 {
			out[i] = item.Clone()
			continue
		}
		var fresh types.Item
		if shareItems {
			fresh = item.Clone()
		} else {
			fresh = types.Item{}
		}
		for src, dest := range inputMap {
			if v, ok := item[src]; ok {
				fresh[dest] = v
			}
		}
		out[i] = fresh
	}
	return out
}

// applyOutputMap folds a subflow's output back onto the parent items.
//
//   - output_map absent: child items replace parent items wholesale.
//   - output_map given: merged positionally by index — parent[i] is
//     overlaid with the mapped fields from child[i]; any child items
//     beyond len(parent) are appended verbatim. This mirrors
//     original_source/flow/executor.py's _apply_output_map technique.
func applyOutputMap(parent, child types.Items, outputMap map[string]string) types.Items {
	if len(outputMap) == 0 {
		return child
	}
	n := len(parent)
	if len(child) < n {
		n = len(child)
	}
	out := make(types.Items, 0, len(parent)+max0(len(child)-len(parent)))
	for i := 0; i < n; i++ {
		fresh := parent[i].Clone()
		for src, dest := range outputMap {
			if v, ok := child[i][src]; ok {
				fresh[dest] = v
			}
		}
		out = append(out, fresh)
	}
	if len(parent) > n {
		out = append(out, parent[n:]...)
	}
	if len(child) > n {
		out = append(out, child[n:]...)
	}
	return out
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
