package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/beaconhq/beacon/internal/agent"
	"github.com/beaconhq/beacon/internal/channels"
	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/memory"
	"github.com/beaconhq/beacon/internal/memory/embeddings"
	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/routing"
	"github.com/beaconhq/beacon/internal/tasks"
	"github.com/beaconhq/beacon/internal/tokenizer"
	"github.com/beaconhq/beacon/internal/tools"
	"github.com/beaconhq/beacon/internal/workspace"
)

// runtime bundles the wired components shared by serve and chat.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	ws        *workspace.Workspace
	mem       *memory.Store
	taskStore *tasks.Store
	registry  *tools.Registry
	loop      *agent.Loop
	notifier  *channels.Registry
	extractor *memory.Extractor
	local     providers.Provider
	remote    providers.Provider
}

func (r *runtime) close() {
	if r.taskStore != nil {
		r.taskStore.Close()
	}
	if r.mem != nil {
		r.mem.Close()
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildRuntime wires providers, memory, tools and the agent loop.
// withEmbedder controls whether vector search is available; the CLI paths
// skip it so they work without a running embedding server.
func buildRuntime(withEmbedder bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg)

	ws := workspace.New(cfg.Workspace.Path)
	if _, err := ws.Bootstrap(); err != nil {
		return nil, err
	}

	var embedder embeddings.Provider
	if withEmbedder {
		embedder = embeddings.NewOllama(embeddings.OllamaConfig{
			BaseURL:   cfg.Providers.Embedding.BaseURL,
			Model:     cfg.Providers.Embedding.Model,
			Dimension: cfg.Providers.Embedding.Dimension,
		})
	}
	mem, err := memory.Open(memory.Config{
		Path:      ws.MemoryDBPath(),
		Embedder:  embedder,
		Dimension: cfg.Providers.Embedding.Dimension,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	taskStore, err := tasks.OpenStore(ws.TasksDBPath(), logger)
	if err != nil {
		mem.Close()
		return nil, err
	}

	local, err := providers.NewOpenAICompat(providers.OpenAICompatConfig{
		Name:          "local",
		BaseURL:       cfg.Providers.Local.BaseURL,
		APIKey:        cfg.Providers.Local.APIKey,
		Model:         cfg.Providers.Local.Model,
		ContextLength: cfg.Providers.Local.ContextLength,
	})
	if err != nil {
		taskStore.Close()
		mem.Close()
		return nil, fmt.Errorf("local provider: %w", err)
	}

	var remote providers.Provider
	apiKey := cfg.Providers.Remote.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		remote, err = providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:        apiKey,
			Model:         cfg.Providers.Remote.Model,
			ContextLength: cfg.Providers.Remote.ContextLength,
		})
		if err != nil {
			taskStore.Close()
			mem.Close()
			return nil, fmt.Errorf("remote provider: %w", err)
		}
	} else {
		logger.Warn("no remote API key configured, running local-only")
	}

	registry := tools.NewRegistry(tools.Options{
		Audit:        tools.NewFileAudit(filepath.Join(ws.Root(), "audit.jsonl")),
		FuzzyResolve: true,
	})
	registry.Register(&tools.ShellTool{})
	registry.Register(memory.NewSearchTool(mem))
	registry.Register(memory.NewSaveTool(mem))
	registry.Register(memory.NewWorkingSetTool(mem))

	router := routing.NewRouter(routing.Config{
		Default:      routing.Target(cfg.Routing.DefaultTarget),
		AlwaysLocal:  cfg.Routing.AlwaysLocal,
		AlwaysRemote: cfg.Routing.AlwaysRemote,
	})

	var counter tokenizer.Counter
	if tk, err := tokenizer.NewTiktoken("cl100k_base"); err == nil {
		counter = tk
	} else {
		logger.Warn("tokenizer unavailable, falling back to estimation", "error", err)
		counter = tokenizer.EstimateCounter{}
	}

	loop := agent.New(agent.Config{
		SystemPrompt:        cfg.Agent.SystemPrompt,
		EscalationThreshold: cfg.Agent.EscalationThreshold,
		ReserveForOutput:    cfg.Agent.ReserveForOutput,
		MaxToolResultTokens: cfg.Agent.MaxToolResultTokens,
		Cwd:                 ws.Root(),
	}, local, remote, router, registry, counter, logger)

	notifier := channels.NewRegistry(channels.ChannelCLI, logger)
	notifier.Register(&channels.CLINotifier{})
	notifier.Register(&channels.LogNotifier{Logger: logger})

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		ws:        ws,
		mem:       mem,
		taskStore: taskStore,
		registry:  registry,
		loop:      loop,
		notifier:  notifier,
		extractor: memory.NewExtractor(local, 0),
		local:     local,
		remote:    remote,
	}, nil
}
