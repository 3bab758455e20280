package nodes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/flowforge/internal/flow/types"
)

// BuildContextPrefix derives a "[prefix]\nkey=value\n..." context block
// from every item field named in args["keys"] and writes it to
// args["into"] (default "context"), leaving every other field
// untouched — grounded on
// original_source/services/code_funcs.py's build_analyzer_messages/
// build_guidance_messages, which fold a state-for-prompt snapshot into a
// system-prompt string the same way before handing off to an LLMChat
// node; our Code contract only sees items (state reads happen via a
// preceding ReadState node), so the state values arrive as item fields
// instead of a live ctx.State read.
func BuildContextPrefix(items types.Items, args map[string]any) (types.Items, error) {
	prefix, _ := args["prefix"].(string)
	if prefix == "" {
		prefix = "context"
	}
	into, _ := args["into"].(string)
	if into == "" {
		into = "context"
	}
	var keys []string
	if raw, ok := args["keys"].([]any); ok {
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
	}

	out := make(types.Items, 0, len(items))
	for _, item := range items {
		fresh := item.Clone()
		fresh[into] = renderContext(prefix, item, keys)
		out = append(out, fresh)
	}
	return out, nil
}

func renderContext(prefix string, item types.Item, keys []string) string {
	lines := []string{"[" + prefix + "]"}
	if len(keys) == 0 {
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	for _, k := range keys {
		if v, ok := item[k]; ok {
			lines = append(lines, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

// DefaultCodeFuncs is the whitelist wired into ctx.Resources["code_funcs"]
// by cmd/flowforge; the bundled status_update and guidance flows
// reference these by name.
var DefaultCodeFuncs = map[string]CodeFunc{
	"build_context_prefix": BuildContextPrefix,
}
