package registry_test

import (
	"testing"

	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/registry"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct{}

func (stubNode) TypeName() string { return "Stub" }

func (stubNode) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	return exec.NodeResult{Items: items}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("Stub", func(params map[string]any) (exec.Node, error) {
		return stubNode{}, nil
	}))

	node, err := r.Build("Stub", nil)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestRegistry_RegisterRejectsConflictingName(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("Stub", func(map[string]any) (exec.Node, error) { return stubNode{}, nil }))

	err := r.Register("Stub", func(map[string]any) (exec.Node, error) { return stubNode{}, nil })
	assert.Error(t, err, "re-registering an existing name must fail unless overwrite is requested")
}

func TestRegistry_OverrideReplacesExistingName(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("Stub", func(map[string]any) (exec.Node, error) { return stubNode{}, nil }))

	r.Override("Stub", func(map[string]any) (exec.Node, error) { return stubNode{}, nil })
	node, err := r.Build("Stub", nil)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestRegistry_BuildUnknownTypeFails(t *testing.T) {
	r := registry.New()
	_, err := r.Build("Nope", nil)
	require.Error(t, err)
}

func TestRegistry_KnownTypesIsSorted(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("Zed", func(map[string]any) (exec.Node, error) { return stubNode{}, nil }))
	require.NoError(t, r.Register("Alpha", func(map[string]any) (exec.Node, error) { return stubNode{}, nil }))

	assert.Equal(t, []string{"Alpha", "Zed"}, r.KnownTypes())
}

func TestRegistry_ReloadReplacesTableAtomically(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register("Old", func(map[string]any) (exec.Node, error) { return stubNode{}, nil }))

	r.Reload(map[string]registry.Constructor{
		"New": func(map[string]any) (exec.Node, error) { return stubNode{}, nil },
	})

	assert.Equal(t, []string{"New"}, r.KnownTypes())
	_, err := r.Build("Old", nil)
	assert.Error(t, err, "reload must fully replace the table, not merge into it")
}
