package nodes

import (
	"fmt"

	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/expr"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/mitchellh/mapstructure"
)

type mapParams struct {
	// Set maps a destination item field to a JMESPath expression
	// evaluated against {"item": <item>}.
	Set map[string]string `mapstructure:"set"`
}

// Map applies a set of JMESPath expressions to every item, producing a
// fresh item with the original fields plus the computed ones.
type Map struct{ params mapParams }

func NewMap(raw map[string]any) (exec.Node, error) {
	var p mapParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("Map: decode params: %w", err)
	}
	return &Map{params: p}, nil
}

func (n *Map) TypeName() string { return "Map" }

func (n *Map) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	out := make(types.Items, 0, len(items))
	for _, item := range items {
		fresh := item.Clone()
		for field, exprStr := range n.params.Set {
			val, err := expr.Eval(exprStr, map[string]any{"item": map[string]any(item)})
			if err != nil {
				return exec.NodeResult{}, fmt.Errorf("Map: field %q: %w", field, err)
			}
			fresh[field] = val
		}
		out = append(out, fresh)
	}
	return exec.NodeResult{Items: out}, nil
}

type filterParams struct {
	// Where is a JMESPath boolean expression evaluated against
	// {"item": <item>}; items for which it is falsy are dropped.
	Where string `mapstructure:"where"`
}

// Filter keeps only the items for which Where evaluates truthy.
type Filter struct{ params filterParams }

func NewFilter(raw map[string]any) (exec.Node, error) {
	var p filterParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("Filter: decode params: %w", err)
	}
	if p.Where == "" {
		return nil, fmt.Errorf("Filter: params.where is required")
	}
	return &Filter{params: p}, nil
}

func (n *Filter) TypeName() string { return "Filter" }

func (n *Filter) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	out := make(types.Items, 0, len(items))
	for _, item := range items {
		keep, err := expr.EvalCond(n.params.Where, map[string]any{"item": map[string]any(item)})
		if err != nil {
			return exec.NodeResult{}, fmt.Errorf("Filter: %w", err)
		}
		if keep {
			out = append(out, item.Clone())
		}
	}
	return exec.NodeResult{Items: out}, nil
}

type mergeParams struct {
	// With is a constant sequence of item records appended to the
	// current stream. Multi-input fan-in at the IR level is aspirational
	// per §9's open questions; this MVP treats Merge as identity on the
	// single inbound stream plus this optional constant append.
	With []map[string]any `mapstructure:"with"`
}

// Merge is identity on the current item stream, optionally appending
// a constant sequence of items from params.with.
type Merge struct{ params mergeParams }

func NewMerge(raw map[string]any) (exec.Node, error) {
	var p mergeParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("Merge: decode params: %w", err)
	}
	return &Merge{params: p}, nil
}

func (n *Merge) TypeName() string { return "Merge" }

func (n *Merge) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	out := items.Clone()
	for _, extra := range n.params.With {
		out = append(out, types.Item(extra).Clone())
	}
	return exec.NodeResult{Items: out}, nil
}

type splitParams struct {
	// At is a JMESPath expression evaluated per item, expected to
	// yield a sequence; Split produces one output item per value in
	// that sequence (§4.2).
	At string `mapstructure:"at"`
	// Into names the item field each exploded value is written
	// under; defaults to "value" when empty.
	Into string `mapstructure:"into"`
}

// Split produces one output item per value of params.at, a path
// yielding a sequence on the source item; every other field of the
// source item is carried onto each produced item unchanged.
type Split struct{ params splitParams }

func NewSplit(raw map[string]any) (exec.Node, error) {
	p := splitParams{Into: "value"}
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("Split: decode params: %w", err)
	}
	if p.At == "" {
		return nil, fmt.Errorf("Split: params.at is required")
	}
	if p.Into == "" {
		p.Into = "value"
	}
	return &Split{params: p}, nil
}

func (n *Split) TypeName() string { return "Split" }

func (n *Split) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	out := make(types.Items, 0, len(items))
	for _, item := range items {
		seq, err := expr.Eval(n.params.At, map[string]any{"item": map[string]any(item)})
		if err != nil {
			return exec.NodeResult{}, fmt.Errorf("Split: %w", err)
		}
		values, ok := seq.([]any)
		if !ok {
			return exec.NodeResult{}, fmt.Errorf("Split: params.at %q did not yield a sequence", n.params.At)
		}
		for _, v := range values {
			fresh := item.Clone()
			fresh[n.params.Into] = v
			out = append(out, fresh)
		}
	}
	return exec.NodeResult{Items: out}, nil
}
