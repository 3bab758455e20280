package main

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/flowforge/internal/chat"
	"github.com/aretw0/flowforge/internal/config"
	"github.com/aretw0/flowforge/internal/flow/interp"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/aretw0/flowforge/internal/flow/nodes"
	"github.com/aretw0/flowforge/internal/flow/registry"
	"github.com/aretw0/flowforge/internal/httpapi"
	"github.com/aretw0/flowforge/internal/job"
	"github.com/aretw0/flowforge/internal/llm"
	"github.com/aretw0/flowforge/internal/llm/httpadapter"
	"github.com/aretw0/flowforge/internal/llm/mock"
	"github.com/aretw0/flowforge/internal/logging"
	"github.com/aretw0/flowforge/internal/outbox"
	"github.com/aretw0/flowforge/internal/session/store"
	backend "github.com/redis/go-redis/v9"
)

// app bundles every long-lived component build wires together, so
// serve/validate/session can share construction without repeating it.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	loader   *ir.Loader
	executor *interp.Executor
	store    *store.Store
	queue    job.Queue
	worker   *job.Worker
	poller   *outbox.Poller
	pipeline *chat.Pipeline
	server   *httpapi.Server
}

// buildApp wires the full dependency graph described in SPEC_FULL.md
// §2 — node registry, IR loader, state/session store, job queue and
// worker, outbox poller, chat pipeline and HTTP surface — the way
// cmd/trellis/serve.go wires trellis.New plus its HTTP adapter, but
// generalized from a single-call engine constructor to flowforge's
// larger component graph.
func buildApp(flagDir string) (*app, error) {
	logger := logging.New(slog.LevelInfo)
	cfg := config.Load()
	if flagDir != "" {
		cfg.FlowDirs = []string{flagDir}
	}

	reg := registry.New()
	nodes.RegisterBuiltins(reg)

	loader := ir.NewLoader(logger)
	loaded, err := loader.LoadDirs(cfg.FlowDirs)
	if err != nil {
		return nil, fmt.Errorf("load flow dirs: %w", err)
	}
	logger.Info("loaded flow documents", "count", loaded, "dirs", cfg.FlowDirs)

	executor := interp.New(reg, loader)
	if cfg.MaxSubflowDepth > 0 {
		executor.MaxDepth = cfg.MaxSubflowDepth
	}

	var adapter llm.Adapter = mock.Adapter{}
	if cfg.LLMAdapterBaseURL != "" {
		adapter = httpadapter.New(cfg.LLMAdapterBaseURL, httpadapter.WithTimeout(cfg.LLMAdapterTimeout))
	}
	recorder := llm.NewTrafficRecorder(0)
	adapter = llm.RecordingAdapter{Inner: adapter, Recorder: recorder}

	resources := map[string]any{
		"llm":        adapter,
		"code_funcs": nodes.DefaultCodeFuncs,
	}

	sessStore, err := store.New(cfg.SessionDataDir)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if n, err := sessStore.RecoverInFlightJobs(); err != nil {
		logger.Warn("recover in-flight jobs failed", "err", err)
	} else if n > 0 {
		logger.Info("recovered in-flight jobs", "count", n)
	}

	var queue job.Queue = job.NullQueue{}
	if cfg.QueueBackend == "redis" {
		client := backend.NewClient(&backend.Options{Addr: cfg.RedisAddr})
		queue = job.NewRedisQueue(client, "")
	}

	worker := job.NewWorker(sessStore, executor, resources, logger)
	poller := outbox.New(sessStore, queue, worker, logger)
	poller.Interval = cfg.OutboxPollInterval

	pipeline := chat.New(sessStore, executor, queue, worker, resources, logger)

	server := &httpapi.Server{
		Executor:  executor,
		Loader:    loader,
		FlowDirs:  cfg.FlowDirs,
		Pipeline:  pipeline,
		Recorder:  recorder,
		Resources: resources,
		Logger:    logger,
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		loader:   loader,
		executor: executor,
		store:    sessStore,
		queue:    queue,
		worker:   worker,
		poller:   poller,
		pipeline: pipeline,
		server:   server,
	}, nil
}
