package nodes

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/exec"
	"github.com/aretw0/flowforge/internal/flow/types"
	"github.com/aretw0/flowforge/internal/llm"
	"github.com/mitchellh/mapstructure"
)

type llmChatParams struct {
	Model         string `mapstructure:"model"`
	SystemPrompt  string `mapstructure:"system_prompt"`
	MessagesFrom  string `mapstructure:"messages_from"`
	ResponseField string `mapstructure:"response_field"`
	// MockResource names a resources entry (an llm.Adapter) to fall
	// back to when the real adapter reports adapter_unavailable.
	MockResource string `mapstructure:"mock_resource"`
}

// LLMChat reads each item's messages sequence (params.messages_from,
// default "messages") and sends it to the configured model alias,
// writing the reply string to params.response_field (default
// "llm_response"). On adapter failure the item is returned unchanged
// and the failure is surfaced as a log line, except when the adapter
// reports adapter_unavailable and a mock_resource is configured: that
// resource's reply is used instead.
type LLMChat struct {
	params llmChatParams
}

func NewLLMChat(raw map[string]any) (exec.Node, error) {
	p := llmChatParams{MessagesFrom: "messages", ResponseField: "llm_response"}
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("LLMChat: decode params: %w", err)
	}
	if p.Model == "" {
		return nil, fmt.Errorf("LLMChat: params.model is required")
	}
	return &LLMChat{params: p}, nil
}

func (n *LLMChat) TypeName() string { return "LLMChat" }

func (n *LLMChat) Run(items types.Items, ctx exec.NodeContext) (exec.NodeResult, error) {
	adapter, _ := ctx.Resource("llm").(llm.Adapter)
	if adapter == nil {
		return exec.NodeResult{}, fmt.Errorf("LLMChat: no llm adapter resource configured")
	}
	var mock llm.Adapter
	if n.params.MockResource != "" {
		mock, _ = ctx.Resource(n.params.MockResource).(llm.Adapter)
	}

	out := make(types.Items, 0, len(items))
	var logs []string
	for _, item := range items {
		messages := n.messagesFor(item, ctx)

		reply, err := adapter.Chat(ctx.Ctx, n.params.Model, messages)
		if err != nil && apperr.KindOf(err) == apperr.KindAdapterUnavailable && mock != nil {
			reply, err = mock.Chat(ctx.Ctx, n.params.Model, messages)
		}
		if err != nil {
			logs = append(logs, fmt.Sprintf("error:llm_chat:%v", err))
			out = append(out, item)
			continue
		}
		fresh := item.Clone()
		fresh[n.params.ResponseField] = reply.Content
		out = append(out, fresh)
	}
	return exec.NodeResult{Items: out, Logs: logs}, nil
}

// messagesFor reads params.messages_from as a []llm.Message sequence,
// prepending a rendered system_prompt when configured. Each entry may
// be a {role, content} record or a bare string, treated as a user turn.
// When the field is absent or not a sequence, it falls back to a
// minimal system(world_state) + user(user_input) pair, grounded on
// original_source/flow/nodes/llm.py's _fallback_messages.
func (n *LLMChat) messagesFor(item types.Item, ctx exec.NodeContext) []llm.Message {
	raw, ok := item[n.params.MessagesFrom].([]any)
	if !ok {
		return n.fallbackMessages(item, ctx)
	}

	var messages []llm.Message
	if n.params.SystemPrompt != "" {
		if rendered, err := renderTemplate(n.params.SystemPrompt, item); err == nil {
			messages = append(messages, llm.Message{Role: "system", Content: rendered})
		}
	}
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			messages = append(messages, llm.Message{Role: "user", Content: v})
		case map[string]any:
			role, _ := v["role"].(string)
			content, _ := v["content"].(string)
			if role == "" {
				role = "user"
			}
			messages = append(messages, llm.Message{Role: role, Content: content})
		}
	}
	return messages
}

func (n *LLMChat) fallbackMessages(item types.Item, ctx exec.NodeContext) []llm.Message {
	systemContent := "[world_state]\n(empty)"
	if n.params.SystemPrompt != "" {
		if rendered, err := renderTemplate(n.params.SystemPrompt, item); err == nil {
			systemContent = rendered
		}
	} else if ctx.State != nil {
		forPrompt := ctx.State.GetForPrompt()
		keys := make([]string, 0, len(forPrompt))
		for k := range forPrompt {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%v", k, forPrompt[k])
			}
			systemContent = "[world_state]\n" + strings.Join(parts, "\n")
		}
	}

	messages := []llm.Message{{Role: "system", Content: systemContent}}
	if userText, _ := item["user_input"].(string); strings.TrimSpace(userText) != "" {
		messages = append(messages, llm.Message{Role: "user", Content: userText})
	}
	return messages
}

func renderTemplate(tmpl string, scope map[string]any) (string, error) {
	t, err := template.New("sys").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, scope); err != nil {
		return "", err
	}
	return buf.String(), nil
}
