package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/tools"
)

// DefaultAPIPollInterval is the remote API poller's cadence.
const DefaultAPIPollInterval = 60 * time.Second

// ToolDispatcher abstracts the registry the poller delegates its checks to.
type ToolDispatcher interface {
	Execute(ctx context.Context, call providers.ToolCall, cwd string) *tools.Result
}

// APICheck is one named tool invocation the poller watches.
type APICheck struct {
	// EventType labels the check; Ref distinguishes multiple instances of the
	// same type. Together they key the baseline.
	EventType string
	Ref       string

	Tool string
	Args map[string]any

	// Relevant, when set, filters fired changes. Nil means always relevant.
	Relevant func(output string) bool
}

// APIPoller dispatches tool-backed checks on an interval and fires per check
// when the output hash changes and the relevance predicate passes. The first
// poll of each check only sets the baseline.
type APIPoller struct {
	checks     []APICheck
	dispatcher ToolDispatcher
	interval   time.Duration
	cwd        string
	logger     *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	baseline map[string]string
}

// NewAPIPoller creates a poller over the given checks.
func NewAPIPoller(checks []APICheck, dispatcher ToolDispatcher, interval time.Duration, cwd string, logger *slog.Logger) *APIPoller {
	if interval <= 0 {
		interval = DefaultAPIPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIPoller{
		checks:     checks,
		dispatcher: dispatcher,
		interval:   interval,
		cwd:        cwd,
		logger:     logger,
		baseline:   make(map[string]string),
	}
}

// Start begins polling. Idempotent.
func (p *APIPoller) Start(onTrigger TriggerFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		p.Poll(ctx, onTrigger)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll(ctx, onTrigger)
			}
		}
	}()
	return nil
}

// Poll runs every check once.
func (p *APIPoller) Poll(ctx context.Context, onTrigger TriggerFunc) {
	for _, check := range p.checks {
		p.pollOne(ctx, check, onTrigger)
	}
}

func (p *APIPoller) pollOne(ctx context.Context, check APICheck, onTrigger TriggerFunc) {
	res := p.dispatcher.Execute(ctx, providers.ToolCall{
		ID:        check.EventType + ":" + check.Ref,
		Name:      check.Tool,
		Arguments: check.Args,
	}, p.cwd)
	if res == nil || !res.Success {
		p.logger.Warn("api check failed", "event_type", check.EventType, "ref", check.Ref)
		return
	}

	sum := sha256.Sum256([]byte(res.Output))
	observed := hex.EncodeToString(sum[:])
	key := check.EventType + "\x00" + check.Ref

	p.mu.Lock()
	prev, primed := p.baseline[key]
	p.baseline[key] = observed
	p.mu.Unlock()

	if !primed || observed == prev {
		return
	}
	if check.Relevant != nil && !check.Relevant(res.Output) {
		return
	}
	onTrigger(Payload{
		Source:  "api_poll",
		Summary: fmt.Sprintf("%s changed (%s)", check.EventType, check.Ref),
		Data:    res.Output,
	})
}

// Stop halts polling. Idempotent.
func (p *APIPoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}
