// Package config centralizes the environment-driven settings the
// flowforge server and CLI need at startup, in place of the teacher's
// ad hoc flag handling in cmd/trellis/serve.go.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every externally tunable knob of the flow engine.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// FlowDirs are the directories the IR loader scans for flow
	// documents at startup and on reload.
	FlowDirs []string

	// SessionStoreBackend is read from FLOWFORGE_SESSION_STORE (default
	// "file"); buildApp does not consult it and always opens the
	// file-backed Session Store under SessionDataDir.
	SessionStoreBackend string
	SessionDataDir       string
	RedisAddr            string

	// QueueBackend selects the Job Queue implementation: "inline"
	// (default, Null/synchronous queue) or "redis".
	QueueBackend string

	// OutboxPollInterval is how often the Outbox Poller scans for
	// pending jobs. Defaults to 250ms per the spec.
	OutboxPollInterval time.Duration

	// LLMAdapterBaseURL, when set, points the real HTTP LLM adapter at
	// an external model-serving endpoint; empty uses the mock adapter.
	LLMAdapterBaseURL string
	LLMAdapterTimeout  time.Duration

	// MaxSubflowDepth caps Subflow recursion (§4.4 edge cases).
	MaxSubflowDepth int
}

// Load builds a Config from the process environment, applying defaults
// matching spec.md where an environment variable is unset.
func Load() Config {
	return Config{
		ListenAddr:           getEnv("FLOWFORGE_LISTEN_ADDR", ":8080"),
		FlowDirs:             splitList(getEnv("FLOWFORGE_FLOW_DIRS", "config/flows")),
		SessionStoreBackend:  getEnv("FLOWFORGE_SESSION_STORE", "file"),
		SessionDataDir:       getEnv("FLOWFORGE_SESSION_DATA_DIR", "data/sessions"),
		RedisAddr:            getEnv("FLOWFORGE_REDIS_ADDR", "localhost:6379"),
		QueueBackend:         getEnv("FLOWFORGE_QUEUE_BACKEND", "inline"),
		OutboxPollInterval:   getEnvDuration("FLOWFORGE_OUTBOX_POLL_INTERVAL", 250*time.Millisecond),
		LLMAdapterBaseURL:    getEnv("FLOWFORGE_LLM_BASE_URL", ""),
		LLMAdapterTimeout:    getEnvDuration("FLOWFORGE_LLM_TIMEOUT", 30*time.Second),
		MaxSubflowDepth:      getEnvInt("FLOWFORGE_MAX_SUBFLOW_DEPTH", 32),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}
