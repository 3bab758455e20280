// Package httpadapter implements llm.Adapter as a JSON-over-HTTP call
// to an external model-serving endpoint, grounded on the teacher's
// functional-options constructor style (internal/adapters/redis.New)
// applied to building an HTTP client instead of a Redis client.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/llm"
)

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithTimeout overrides the per-request timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithAPIKey sets a bearer token sent as the Authorization header on
// every request.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// Adapter calls a configured base URL's POST /chat endpoint, translating
// non-2xx responses and transport failures into the §6.3 error kinds
// (adapter_timeout/adapter_unavailable/adapter_protocol).
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New builds an Adapter against baseURL, applying any Options.
func New(baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
}

type chatResponse struct {
	Content string         `json:"content"`
	Raw     map[string]any `json:"raw,omitempty"`
}

func (a *Adapter) Chat(ctx context.Context, modelAlias string, messages []llm.Message) (llm.Reply, error) {
	body, err := json.Marshal(chatRequest{Model: modelAlias, Messages: messages})
	if err != nil {
		return llm.Reply{}, apperr.Wrap(apperr.KindInternal, "marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return llm.Reply{}, apperr.Wrap(apperr.KindInternal, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Reply{}, apperr.Wrap(apperr.KindAdapterTimeout, "chat request timed out", err)
		}
		return llm.Reply{}, apperr.Wrap(apperr.KindAdapterUnavailable, "chat request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Reply{}, apperr.Wrap(apperr.KindAdapterProtocol, "read chat response", err)
	}
	if resp.StatusCode >= 500 {
		return llm.Reply{}, apperr.New(apperr.KindAdapterUnavailable, fmt.Sprintf("adapter returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return llm.Reply{}, apperr.New(apperr.KindAdapterProtocol, fmt.Sprintf("adapter returned %d: %s", resp.StatusCode, raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Reply{}, apperr.Wrap(apperr.KindAdapterProtocol, "decode chat response", err)
	}
	return llm.Reply{Content: out.Content, Raw: out.Raw}, nil
}
