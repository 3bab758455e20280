// Package expr implements the spec's expression language (§6.5) on top
// of github.com/jmespath/go-jmespath, replacing the original
// implementation's restricted-eval approach (flagged in its own source
// as a stopgap to be replaced by exactly this kind of safe evaluator).
package expr

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/jmespath/go-jmespath"
)

// Eval runs a JMESPath expression against a scope map, typically
// {"item": ..., "items": ..., "state": ...}.
func Eval(expression string, scope map[string]any) (any, error) {
	result, err := jmespath.Search(expression, scope)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExpression, fmt.Sprintf("evaluate %q", expression), err)
	}
	return result, nil
}

// Truthy implements JMESPath's own truthy/falsy rules: nil, false, "",
// empty slices and empty maps are falsy; everything else (including 0
// and numeric zero) is truthy. This is the safe equivalent of Python's
// own truthiness that the original restricted-eval relied on.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// EvalCond evaluates an If node's condition expression and returns its
// truthiness.
func EvalCond(expression string, scope map[string]any) (bool, error) {
	// go-jmespath's ordering comparators only accept float64 operands, so
	// Go ints in the scope are normalized through a JSON round trip.
	if data, err := json.Marshal(scope); err == nil {
		var normalized map[string]any
		if json.Unmarshal(data, &normalized) == nil {
			scope = normalized
		}
	}
	v, err := Eval(expression, scope)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}
