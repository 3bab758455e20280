package exec

// MergeMetrics combines two node/step metrics maps: numeric values are
// summed, everything else is overwritten by the later (right-hand)
// value — the policy named in §4.4 for combining metrics across a
// Sequence or branch merge.
func MergeMetrics(base, next map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(next))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range next {
		if bv, ok := out[k]; ok {
			if sum, ok := sumNumeric(bv, v); ok {
				out[k] = sum
				continue
			}
		}
		out[k] = v
	}
	return out
}

// MergeLogs concatenates log lines in order.
func MergeLogs(base, next []string) []string {
	out := make([]string, 0, len(base)+len(next))
	out = append(out, base...)
	out = append(out, next...)
	return out
}

func sumNumeric(a, b any) (any, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, false
	}
	ai, aIsInt := a.(int)
	bi, bIsInt := b.(int)
	if aIsInt && bIsInt {
		return ai + bi, true
	}
	al, aIsI64 := a.(int64)
	bl, bIsI64 := b.(int64)
	if aIsI64 && bIsI64 {
		return al + bl, true
	}
	return af + bf, true
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	default:
		return 0, false
	}
}
