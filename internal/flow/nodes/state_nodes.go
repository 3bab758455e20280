package nodes

import (
	"fmt"

	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/mitchellh/mapstructure"
)

type stateKeysParams struct {
	Keys []string `mapstructure:"keys"`
	// Into is the item field each state key is written under; if
	// empty the key name itself is used.
	Into map[string]string `mapstructure:"into"`
}

// ReadState copies selected State Manager keys onto every item,
// reading through GetForPrompt's pending-key fallback so an
// in-flight async refresh never leaks a half-formed value.
type ReadState struct{ params stateKeysParams }

func NewReadState(raw map[string]any) (exec.Node, error) {
	var p stateKeysParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("ReadState: decode params: %w", err)
	}
	return &ReadState{params: p}, nil
}

func (n *ReadState) TypeName() string { return "ReadState" }

func (n *ReadState) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	values := ctx.State.GetForPrompt(n.params.Keys...)
	out := make(types.Items, len(items))
	for i, item := range items {
		fresh := item.Clone()
		for _, k := range n.params.Keys {
			dest := k
			if d, ok := n.params.Into[k]; ok {
				dest = d
			}
			if v, ok := values[k]; ok {
				fresh[dest] = v
			}
		}
		out[i] = fresh
	}
	if len(items) == 0 {
		out = types.Items{}
	}
	return exec.NodeResult{Items: out}, nil
}

type writeStateParams struct {
	// Updates is a fixed set of key/value pairs written as-is.
	Updates map[string]any `mapstructure:"updates"`
	// FromItemMap maps an item field (key, the source) to a state key
	// (value, the destination): {'llm_response': 'last_narrative'}.
	FromItemMap map[string]string `mapstructure:"from_item_map"`
	// PerItem, when true, applies FromItemMap to every item in the
	// batch instead of only the first; later items win on key
	// collisions since each write lands in the same UpdateSync call.
	PerItem bool `mapstructure:"per_item"`
}

// WriteState synchronously updates both Working and LSS state from a
// fixed set of updates plus values collected out of item fields.
type WriteState struct{ params writeStateParams }

func NewWriteState(raw map[string]any) (exec.Node, error) {
	var p writeStateParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("WriteState: decode params: %w", err)
	}
	return &WriteState{params: p}, nil
}

func (n *WriteState) TypeName() string { return "WriteState" }

func (n *WriteState) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	updates := map[string]any{}
	for k, v := range n.params.Updates {
		updates[k] = v
	}

	source := items
	if !n.params.PerItem && len(items) > 0 {
		source = items[:1]
	}
	for _, item := range source {
		for itemField, stateKey := range n.params.FromItemMap {
			if v, ok := item[itemField]; ok {
				updates[stateKey] = v
			}
		}
	}

	if len(updates) > 0 {
		ctx.State.UpdateSync(updates)
	}
	return exec.NodeResult{Items: items}, nil
}

type incrementCounterParams struct {
	Key string `mapstructure:"key"`
	By  int    `mapstructure:"by"`
}

// IncrementCounter bumps a numeric state key by a fixed delta (default
// 1) and writes the resulting total back synchronously.
type IncrementCounter struct{ params incrementCounterParams }

func NewIncrementCounter(raw map[string]any) (exec.Node, error) {
	p := incrementCounterParams{By: 1}
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("IncrementCounter: decode params: %w", err)
	}
	if p.Key == "" {
		return nil, fmt.Errorf("IncrementCounter: params.key is required")
	}
	return &IncrementCounter{params: p}, nil
}

func (n *IncrementCounter) TypeName() string { return "IncrementCounter" }

func (n *IncrementCounter) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	current := ctx.State.GetWorking(n.params.Key)
	total := 0
	if v, ok := current[n.params.Key]; ok {
		total = toInt(v)
	}
	total += n.params.By
	ctx.State.UpdateSync(map[string]any{n.params.Key: total})
	return exec.NodeResult{Items: items, Metrics: map[string]any{"counter_" + n.params.Key: total}}, nil
}

func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	default:
		return 0
	}
}
