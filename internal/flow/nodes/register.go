package nodes

import "github.com/aretw0/flowforge/internal/flow/registry"

// RegisterBuiltins wires every atomic node type into reg, once, at
// process startup. It panics on a name conflict since that can only
// mean two builtins collided on the same type name, a programming
// error rather than something a caller should recover from. A reload
// path that wants to re-register the same constructors must use
// reg.Override instead of calling this twice.
func RegisterBuiltins(reg *registry.Registry) {
	must(reg.Register("Code", NewCode))
	must(reg.Register("LLMChat", NewLLMChat))
	must(reg.Register("ReadState", NewReadState))
	must(reg.Register("WriteState", NewWriteState))
	must(reg.Register("IncrementCounter", NewIncrementCounter))
	must(reg.Register("Map", NewMap))
	must(reg.Register("Filter", NewFilter))
	must(reg.Register("Merge", NewMerge))
	must(reg.Register("Split", NewSplit))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
