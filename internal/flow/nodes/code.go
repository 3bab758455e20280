package nodes

import (
	"fmt"

	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/mitchellh/mapstructure"
)

// CodeFunc is a whitelisted function a Code node may invoke. It is
// looked up by name from the ctx.Resources["code_funcs"] pool, never
// from an arbitrary eval of node params — the whitelist is the
// security boundary.
type CodeFunc func(items types.Items, args map[string]any) (types.Items, error)

type codeParams struct {
	Function string         `mapstructure:"function"`
	Args     map[string]any `mapstructure:"args"`
}

// Code runs a named whitelisted Go function against the item stream.
type Code struct {
	params codeParams
}

func NewCode(raw map[string]any) (exec.Node, error) {
	var p codeParams
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("Code: decode params: %w", err)
	}
	if p.Function == "" {
		return nil, fmt.Errorf("Code: params.function is required")
	}
	return &Code{params: p}, nil
}

func (n *Code) TypeName() string { return "Code" }

func (n *Code) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	funcs, _ := ctx.Resource("code_funcs").(map[string]CodeFunc)
	fn, ok := funcs[n.params.Function]
	if !ok {
		return exec.NodeResult{}, fmt.Errorf("Code: function %q is not whitelisted", n.params.Function)
	}
	out, err := fn(items, n.params.Args)
	if err != nil {
		return exec.NodeResult{}, err
	}
	return exec.NodeResult{Items: out}, nil
}
