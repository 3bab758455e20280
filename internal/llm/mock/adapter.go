// Package mock provides a deterministic llm.Adapter double, used by
// tests and as the default adapter when no external LLM endpoint is
// configured, grounded on the provider-mock pattern seen across the
// retrieval pack (e.g. runtime/providers/mock in the PromptKit example).
package mock

import (
	"context"
	"fmt"

	"github.com/aretw0/flowforge/internal/llm"
)

// Adapter always answers with a canned reply derived from the last
// user message, so flow tests can assert on predictable output.
type Adapter struct {
	// Reply, when non-empty, is returned verbatim regardless of input.
	Reply string
}

func (a Adapter) Chat(_ context.Context, modelAlias string, messages []llm.Message) (llm.Reply, error) {
	if a.Reply != "" {
		return llm.Reply{Content: a.Reply}, nil
	}
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	return llm.Reply{Content: fmt.Sprintf("[mock:%s] %s", modelAlias, last)}, nil
}
