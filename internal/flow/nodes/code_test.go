package nodes_test

import (
	"testing"

	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/nodes"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_RunsWhitelistedFunction(t *testing.T) {
	node, err := nodes.NewCode(map[string]any{"function": "build_context_prefix", "args": map[string]any{
		"prefix": "ctx",
		"into":   "ctx_text",
		"keys":   []any{"mood"},
	}})
	require.NoError(t, err)

	resources := map[string]any{"code_funcs": nodes.DefaultCodeFuncs}
	result, err := node.Run(types.Items{{"mood": "calm"}}, exec.NodeContext{Resources: resources})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Contains(t, result.Items[0]["ctx_text"], "mood=calm")
}

func TestCode_RejectsUnlistedFunction(t *testing.T) {
	node, err := nodes.NewCode(map[string]any{"function": "not_whitelisted"})
	require.NoError(t, err)

	_, err = node.Run(types.Items{{}}, exec.NodeContext{Resources: map[string]any{"code_funcs": nodes.DefaultCodeFuncs}})
	assert.Error(t, err)
}

func TestCode_RequiresFunction(t *testing.T) {
	_, err := nodes.NewCode(map[string]any{})
	assert.Error(t, err)
}
