// Package routing decides which provider tier serves a request and whether a
// local response should be escalated to the remote tier.
package routing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/beaconhq/beacon/internal/providers"
)

// Target names a provider tier.
type Target string

const (
	TargetLocal  Target = "local"
	TargetRemote Target = "remote"
)

// Decision is the outcome of routing one request.
type Decision struct {
	Target    Target
	Rationale string
}

// Config holds the keyword lists and default used by Route.
type Config struct {
	// Default is used when no keyword list matches. Defaults to local.
	Default Target

	// AlwaysLocal keywords force the local tier when present in the last
	// user message.
	AlwaysLocal []string

	// AlwaysRemote keywords force the remote tier. Remote wins when both
	// lists match.
	AlwaysRemote []string
}

// Router is a pure keyword-based router.
type Router struct {
	cfg Config
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	if cfg.Default == "" {
		cfg.Default = TargetLocal
	}
	return &Router{cfg: cfg}
}

// Route inspects the last user message and returns the chosen tier.
func (r *Router) Route(messages []providers.Message, toolNames []string) Decision {
	content := strings.ToLower(lastUserContent(messages))

	if kw := matchKeyword(content, r.cfg.AlwaysRemote); kw != "" {
		return Decision{Target: TargetRemote, Rationale: "matched remote keyword: " + kw}
	}
	if kw := matchKeyword(content, r.cfg.AlwaysLocal); kw != "" {
		return Decision{Target: TargetLocal, Rationale: "matched local keyword: " + kw}
	}
	return Decision{Target: r.cfg.Default, Rationale: "default target"}
}

// confidencePattern matches the escalation signal some local servers embed in
// response metadata, e.g. "model-q4 confidence=0.42".
var confidencePattern = regexp.MustCompile(`confidence=([0-9.]+)`)

// ShouldRetryWithRemote reports whether a local response carries a confidence
// signal below threshold. Responses without a signal never escalate.
func ShouldRetryWithRemote(resp *providers.ChatResponse, threshold float64) bool {
	if resp == nil || threshold <= 0 {
		return false
	}
	m := confidencePattern.FindStringSubmatch(resp.Model)
	if m == nil {
		return false
	}
	conf, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	return conf < threshold
}

func matchKeyword(content string, keywords []string) string {
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(content, k) {
			return k
		}
	}
	return ""
}

func lastUserContent(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == providers.RoleUser {
			return messages[i].Text()
		}
	}
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Text()
}
