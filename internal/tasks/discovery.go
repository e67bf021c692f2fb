package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/agent"
)

// DefaultDiscoveryInterval is how often discovery considers firing.
const DefaultDiscoveryInterval = 30 * time.Minute

const discoveryPrompt = `Review recent activity and consider whether any recurring chores, follow-ups, or monitoring would help the user. If (and only if) something concrete and valuable comes to mind, propose it with the task_propose tool. Propose at most three tasks. If nothing is clearly worth automating, reply "nothing to propose" and do not call any tools.`

// DiscoveryConfig tunes the discovery cycle.
type DiscoveryConfig struct {
	Interval time.Duration // default 30m

	// UserActiveWindow: discovery only fires when the user interacted within
	// this window. Default 2h.
	UserActiveWindow time.Duration

	// IdleThreshold: the system must have been idle at least this long.
	// Default 10m.
	IdleThreshold time.Duration

	// MaxProposals per firing. Default 3.
	MaxProposals int
}

func (c *DiscoveryConfig) fill() {
	if c.Interval <= 0 {
		c.Interval = DefaultDiscoveryInterval
	}
	if c.UserActiveWindow <= 0 {
		c.UserActiveWindow = 2 * time.Hour
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 10 * time.Minute
	}
	if c.MaxProposals <= 0 {
		c.MaxProposals = 3
	}
}

// Discovery periodically asks the local model whether any new background
// tasks are worth proposing. It never mutates the task store itself; all
// proposals go through the propose tool.
type Discovery struct {
	cfg     DiscoveryConfig
	runner  *Runner
	agent   AgentRunner
	propose *ProposeTool
	logger  *slog.Logger

	mu                sync.Mutex
	lastInteractionAt time.Time
	lastActivityAt    time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDiscovery wires a discovery cycle.
func NewDiscovery(cfg DiscoveryConfig, runner *Runner, agentRunner AgentRunner, propose *ProposeTool, logger *slog.Logger) *Discovery {
	cfg.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{cfg: cfg, runner: runner, agent: agentRunner, propose: propose, logger: logger}
}

// RecordInteraction marks the user as recently active.
func (d *Discovery) RecordInteraction() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastInteractionAt = time.Now()
	d.lastActivityAt = time.Now()
}

// RecordActivity marks any system work (task runs, events).
func (d *Discovery) RecordActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivityAt = time.Now()
}

// Start begins the periodic cycle.
func (d *Discovery) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return
	}
	d.stop = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the cycle.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return
	}
	close(d.stop)
	d.stop = nil
	d.mu.Unlock()
	d.wg.Wait()
}

// ShouldRun applies the idle gates.
func (d *Discovery) ShouldRun(now time.Time) bool {
	if d.runner != nil && d.runner.Busy() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastInteractionAt.IsZero() || now.Sub(d.lastInteractionAt) > d.cfg.UserActiveWindow {
		return false
	}
	if !d.lastActivityAt.IsZero() && now.Sub(d.lastActivityAt) < d.cfg.IdleThreshold {
		return false
	}
	return true
}

// RunOnce fires one discovery pass when the gates allow. Discovery is
// strictly local and limited to the propose tool.
func (d *Discovery) RunOnce(ctx context.Context) {
	if !d.ShouldRun(time.Now()) {
		return
	}
	if d.propose != nil {
		d.propose.SetBudget(d.cfg.MaxProposals)
	}
	defer func() {
		if d.propose != nil {
			d.propose.SetBudget(0)
		}
	}()

	sessionID := "discovery:" + time.Now().Format("2006-01-02T15:04")
	res, err := d.agent.Run(ctx, sessionID, discoveryPrompt, agent.RunOptions{
		MaxTurns:  4,
		LocalOnly: true,
	})
	d.agent.ClearSession(sessionID)
	if err != nil {
		d.logger.Warn("discovery run failed", "error", err)
		return
	}
	d.logger.Info("discovery completed", "turns", res.Turns)
}
