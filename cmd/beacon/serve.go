package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/agent"
	"github.com/beaconhq/beacon/internal/tasks"
	"github.com/beaconhq/beacon/internal/tasks/events"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant runtime",
		Long: "Starts the task orchestrator, event sources, discovery and the webhook\n" +
			"listener, and keeps running until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// webhookMux registers webhook handlers under /hooks/<task-name>.
type webhookMux struct {
	mu  sync.Mutex
	mux *http.ServeMux
}

func newWebhookMux() *webhookMux {
	return &webhookMux{mux: http.NewServeMux()}
}

func (m *webhookMux) Mount(name string, webhook *events.Webhook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mux.HandleFunc("/hooks/"+name, webhook.Handler)
}

func (m *webhookMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

func runServe() error {
	rt, err := buildRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := tasks.NewRunner(tasks.RunnerConfig{
		TickInterval:      cfg.Tasks.TickInterval,
		EventDedupe:       cfg.Tasks.EventDedupe,
		TaskTimeout:       cfg.Tasks.TaskTimeout,
		MaxTurns:          cfg.Agent.MaxTurns,
		RetrievalLimit:    cfg.Memory.RetrievalLimit,
		RetrievalMinScore: cfg.Memory.RetrievalMinScore,
	}, rt.taskStore, rt.loop, rt.mem, rt.notifier, logger)
	runner.SetExtractor(rt.extractor)
	runner.SetContextGatherer(rt.ws)

	mux := newWebhookMux()
	runner.SetSourceFactory(tasks.NewSourceFactory(rt.registry, mux, rt.ws.Root(), logger))

	var server *http.Server
	if cfg.Webhooks.Enabled {
		server = &http.Server{Addr: cfg.Webhooks.Addr, Handler: mux}
		go func() {
			logger.Info("webhook listener started", "addr", cfg.Webhooks.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("webhook listener failed", "error", err)
			}
		}()
	}

	proposeTool := tasks.NewProposeTool(rt.taskStore)
	rt.registry.Register(proposeTool)

	// Discovery feeds on runner signals, so it is wired before the first tick.
	var discovery *tasks.Discovery
	if cfg.Tasks.Discovery.Enabled {
		discovery = tasks.NewDiscovery(tasks.DiscoveryConfig{
			Interval: cfg.Tasks.Discovery.Interval,
		}, runner, rt.loop, proposeTool, logger)
		runner.SetActivityRecorder(discovery)
	}

	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	if discovery != nil {
		discovery.Start(ctx)
		defer discovery.Stop()
	}

	if cfg.Tasks.Heartbeat.Enabled {
		go heartbeatLoop(ctx, rt, runner, discovery, cfg.Tasks.Heartbeat.Interval)
	}

	// Nightly housekeeping: sweep stale memories and index daily logs.
	go maintenanceLoop(ctx, rt)

	logger.Info("beacon running",
		"workspace", rt.ws.Root(),
		"local_model", cfg.Providers.Local.Model,
		"remote", rt.remote != nil)
	<-ctx.Done()
	logger.Info("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("webhook listener shutdown failed", "error", err)
		}
	}
	return nil
}

// heartbeatLoop periodically works through unchecked HEARTBEAT.md items,
// yielding to the runner whenever it is busy.
func heartbeatLoop(ctx context.Context, rt *runtime, runner *tasks.Runner, discovery *tasks.Discovery, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if runner.Busy() {
			continue
		}
		items, err := tasks.ReadHeartbeat(rt.ws.HeartbeatPath())
		if err != nil {
			rt.logger.Warn("heartbeat read failed", "error", err)
			continue
		}
		prompt := tasks.HeartbeatPrompt(items)
		if prompt == "" {
			continue
		}
		sessionID := "heartbeat:" + time.Now().Format("2006-01-02T15:04")
		res, err := rt.loop.Run(ctx, sessionID, prompt, agent.RunOptions{LocalOnly: true})
		rt.loop.ClearSession(sessionID)
		if err != nil {
			rt.logger.Warn("heartbeat run failed", "error", err)
			continue
		}
		rt.logger.Info("heartbeat completed", "turns", res.Turns)
		if discovery != nil {
			discovery.RecordActivity()
		}
		if err := rt.ws.AppendDailyLog(fmt.Sprintf("heartbeat: %s", res.Content)); err != nil {
			rt.logger.Warn("heartbeat log failed", "error", err)
		}
	}
}

func maintenanceLoop(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := rt.mem.SweepWorking(ctx); err != nil {
			rt.logger.Warn("working memory sweep failed", "error", err)
		}
		result, err := rt.mem.CollectGarbage(ctx, rt.cfg.Memory.AutoMaxAge, rt.cfg.Memory.ConversationMaxAge, false)
		if err != nil {
			rt.logger.Warn("memory gc failed", "error", err)
		} else if len(result.Deleted) > 0 {
			rt.logger.Info("memory gc", "deleted", len(result.Deleted), "skipped", result.Skipped)
		}
		if indexed, err := rt.mem.IndexDailyLogs(ctx, rt.ws); err != nil {
			rt.logger.Warn("log indexing failed", "error", err)
		} else if indexed > 0 {
			rt.logger.Info("daily logs indexed", "days", indexed)
		}
	}
}
