// Package llm defines the contract the flow engine consumes from an
// external LLM adapter (§6.3) — the engine never implements a model
// client itself, only this narrow interface plus a mock/HTTP adapter
// for development and tests.
package llm

import "context"

// Message is one turn of a chat-style prompt.
type Message struct {
	Role    string
	Content string
}

// Reply is what an adapter returns for a single chat call.
type Reply struct {
	Content string
	Raw     map[string]any
}

// Adapter is the narrow surface the LLMChat node and job handlers call
// through. Implementations must translate provider-specific failures
// into apperr Kinds (adapter_timeout/adapter_unavailable/adapter_protocol).
type Adapter interface {
	Chat(ctx context.Context, modelAlias string, messages []Message) (Reply, error)
}
