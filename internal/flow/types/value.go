// Package types implements the dynamic item-record value model that
// flows between flow nodes: an ordered sequence of extensible
// key-to-value records, per the dynamic-dictionaries item strategy.
package types

// Kind discriminates a Value's variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSeq
	KindRecord
)

// Value is a tagged union over every shape an item field can hold,
// used where code needs to compare or introspect field values
// structurally rather than through a bare `any`. Item itself stays
// map[string]any for node authoring; Value exists for callers (e.g.
// purity checks, diffing) that want an explicit, comparable variant
// type instead of relying on Go's dynamic typing.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	seq    []Value
	record map[string]Value
}

func NullValue() Value                     { return Value{kind: KindNull} }
func BoolValue(b bool) Value                { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value                { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value            { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value            { return Value{kind: KindString, s: s} }
func SeqValue(vs []Value) Value             { return Value{kind: KindSeq, seq: vs} }
func RecordValue(m map[string]Value) Value  { return Value{kind: KindRecord, record: m} }

func (v Value) Kind() Kind { return v.kind }

// FromAny converts a dynamically typed value (as decoded from JSON/YAML
// or produced by a node) into a Value, recursing into slices and maps.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(val)
	case int:
		return IntValue(int64(val))
	case int64:
		return IntValue(val)
	case float64:
		return FloatValue(val)
	case string:
		return StringValue(val)
	case []any:
		out := make([]Value, len(val))
		for i, vv := range val {
			out[i] = FromAny(vv)
		}
		return SeqValue(out)
	case map[string]any:
		out := make(map[string]Value, len(val))
		for k, vv := range val {
			out[k] = FromAny(vv)
		}
		return RecordValue(out)
	case Item:
		return FromAny(map[string]any(val))
	case Items:
		out := make([]Value, len(val))
		for i, it := range val {
			out[i] = FromAny(it)
		}
		return SeqValue(out)
	default:
		return NullValue()
	}
}

// ToAny converts a Value back into the dynamic representation nodes
// and JSON encoding expect.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, vv := range v.seq {
			out[i] = vv.ToAny()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.record))
		for k, vv := range v.record {
			out[k] = vv.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two Values are structurally identical:
// same kind, and for Seq/Record, every element/key recursively equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindSeq:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.record) != len(other.record) {
			return false
		}
		for k, vv := range v.record {
			ov, ok := other.record[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ItemValue converts an Item to a Value for structural comparison, e.g.
// asserting a node's purity invariant (run(I, ctx) must not mutate I).
func ItemValue(it Item) Value {
	return FromAny(map[string]any(it))
}

// ItemsEqual reports whether two Items sequences are structurally
// identical field-for-field, order-sensitive.
func ItemsEqual(a, b Items) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ItemValue(a[i]).Equal(ItemValue(b[i])) {
			return false
		}
	}
	return true
}

// Item is a single record flowing through a flow: an open map of
// field name to dynamic value. Nodes must treat items as immutable and
// produce fresh items rather than mutating the ones they received.
type Item map[string]any

// Items is an ordered sequence of Item records.
type Items []Item

// Clone returns a deep copy of an item, so a node can safely hand its
// input to another goroutine or retain it past the call that produced
// it.
func (it Item) Clone() Item {
	if it == nil {
		return Item{}
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone deep-copies every item in the sequence.
func (items Items) Clone() Items {
	if items == nil {
		return Items{}
	}
	out := make(Items, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = cloneValue(vv)
		}
		return out
	case Item:
		return val.Clone()
	default:
		return val
	}
}

// EnsureItems normalizes a possibly-nil slice into a non-nil Items
// value and shallow-copies each record, mirroring the invariant that
// nodes never observe (or can accidentally mutate) the caller's slice.
func EnsureItems(items Items) Items {
	if items == nil {
		return Items{}
	}
	out := make(Items, len(items))
	for i, it := range items {
		cp := make(Item, len(it))
		for k, v := range it {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
