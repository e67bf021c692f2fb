package events

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// DefaultPollInterval is the command poller's cadence.
const DefaultPollInterval = 30 * time.Second

// Diff modes for the command poller.
const (
	DiffHash     = "hash"
	DiffFull     = "full"
	DiffExitCode = "exit_code"
)

// CommandConfig configures a CommandPoller.
type CommandConfig struct {
	Command  string
	Interval time.Duration

	// DiffMode selects what counts as a change: hash (SHA-256 of stdout),
	// full (exact string), or exit_code. Default hash.
	DiffMode string
}

// CommandPoller runs a shell command on an interval and fires when its
// observed value changes. The first run only sets the baseline.
type CommandPoller struct {
	cfg    CommandConfig
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	baseline string
	primed   bool
}

// NewCommandPoller creates a poller.
func NewCommandPoller(cfg CommandConfig, logger *slog.Logger) *CommandPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.DiffMode == "" {
		cfg.DiffMode = DiffHash
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandPoller{cfg: cfg, logger: logger}
}

// Start begins polling. Idempotent.
func (p *CommandPoller) Start(onTrigger TriggerFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx, onTrigger)
	return nil
}

func (p *CommandPoller) run(ctx context.Context, onTrigger TriggerFunc) {
	p.poll(ctx, onTrigger)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, onTrigger)
		}
	}
}

// Poll runs one observation immediately. Exposed for callers that drive the
// cadence themselves.
func (p *CommandPoller) Poll(ctx context.Context, onTrigger TriggerFunc) {
	p.poll(ctx, onTrigger)
}

func (p *CommandPoller) poll(ctx context.Context, onTrigger TriggerFunc) {
	stdout, exitCode, err := p.execute(ctx)
	if err != nil && exitCode < 0 {
		p.logger.Warn("command poll failed", "command", p.cfg.Command, "error", err)
		return
	}

	var observed string
	switch p.cfg.DiffMode {
	case DiffFull:
		observed = stdout
	case DiffExitCode:
		observed = strconv.Itoa(exitCode)
	default:
		sum := sha256.Sum256([]byte(stdout))
		observed = hex.EncodeToString(sum[:])
	}

	p.mu.Lock()
	changed := p.primed && observed != p.baseline
	p.baseline = observed
	p.primed = true
	p.mu.Unlock()

	if changed {
		onTrigger(Payload{
			Source:  "command",
			Summary: fmt.Sprintf("output of %q changed", p.cfg.Command),
			Data:    stdout,
		})
	}
}

func (p *CommandPoller) execute(ctx context.Context) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.cfg.Command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.String(), exitErr.ExitCode(), nil
		}
		return "", -1, err
	}
	return stdout.String(), 0, nil
}

// Stop halts polling. Idempotent.
func (p *CommandPoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}
