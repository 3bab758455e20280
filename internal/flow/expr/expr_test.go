package expr_test

import (
	"testing"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_SelectsNestedField(t *testing.T) {
	scope := map[string]any{"item": map[string]any{"qty": 3}}
	v, err := expr.Eval("item.qty", scope)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestEval_InvalidExpressionWrapsKindExpression(t *testing.T) {
	_, err := expr.Eval("item.[", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpression, apperr.KindOf(err))
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"empty string", "", false},
		{"non-empty string", "x", true},
		{"empty slice", []any{}, false},
		{"non-empty slice", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"zero int is truthy", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, expr.Truthy(tc.v))
		})
	}
}

func TestEvalCond(t *testing.T) {
	scope := map[string]any{"item": map[string]any{"qty": 0}}
	ok, err := expr.EvalCond("item.qty > `0`", scope)
	require.NoError(t, err)
	assert.False(t, ok)

	scope["item"] = map[string]any{"qty": 5}
	ok, err = expr.EvalCond("item.qty > `0`", scope)
	require.NoError(t, err)
	assert.True(t, ok)
}
