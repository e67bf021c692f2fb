package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/beaconhq/beacon/internal/providers"
)

// Extraction categories the extractor will accept.
var validCategories = map[string]bool{
	"fact":       true,
	"preference": true,
	"decision":   true,
	"project":    true,
	"entity":     true,
	"lesson":     true,
}

// Extracted is one candidate memory pulled from a conversation.
type Extracted struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

// Extractor derives durable memories from finished conversations using a
// model call.
type Extractor struct {
	provider       providers.Provider
	maxExtractions int
}

// NewExtractor builds an extractor. maxExtractions <= 0 selects 10.
func NewExtractor(p providers.Provider, maxExtractions int) *Extractor {
	if maxExtractions <= 0 {
		maxExtractions = 10
	}
	return &Extractor{provider: p, maxExtractions: maxExtractions}
}

const extractSystemPrompt = `You extract durable facts from a conversation transcript.
Return ONLY a JSON array. Each element: {"key": "snake_case_identifier", "value": "the fact", "category": "fact|preference|decision|project|entity|lesson"}.
Extract only information worth remembering across sessions: user preferences, decisions made, project details, named entities, lessons learned.
Return [] if nothing qualifies.`

// Extract asks the model for candidate memories from the transcript and
// returns the sanitized survivors.
func (e *Extractor) Extract(ctx context.Context, transcript []providers.Message) ([]Extracted, error) {
	if len(transcript) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for _, m := range transcript {
		if m.Role != providers.RoleUser && m.Role != providers.RoleAssistant {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text())
	}
	if b.Len() == 0 {
		return nil, nil
	}

	resp, err := e.provider.Chat(ctx, &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: extractSystemPrompt},
			{Role: providers.RoleUser, Content: b.String()},
		},
		Options: providers.ChatOptions{Temperature: 0.1, MaxTokens: 1024},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: extraction call: %w", err)
	}

	items, err := parseExtractions(resp.Content)
	if err != nil {
		return nil, err
	}

	var out []Extracted
	for _, item := range items {
		key := sanitizeKey(item.Key)
		if key == "" || item.Value == "" || !validCategories[item.Category] {
			continue
		}
		item.Key = key
		out = append(out, item)
		if len(out) >= e.maxExtractions {
			break
		}
	}
	return out, nil
}

// parseExtractions is tolerant of the ways models wrap JSON: code fences,
// leading prose, and mildly malformed output (repaired before parsing).
func parseExtractions(content string) ([]Extracted, error) {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	if i := strings.Index(s, "["); i > 0 {
		s = s[i:]
	}

	var items []Extracted
	if err := json.Unmarshal([]byte(s), &items); err == nil {
		return items, nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("memory: unparseable extraction output: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &items); err != nil {
		return nil, fmt.Errorf("memory: unparseable extraction output: %w", err)
	}
	return items, nil
}

var (
	keyInvalid   = regexp.MustCompile(`[^a-z0-9_]+`)
	keyCollapse  = regexp.MustCompile(`_+`)
	maxKeyLength = 100
)

// sanitizeKey lowercases, maps invalid runs to underscores, collapses
// repeats, trims edges, and caps length.
func sanitizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = keyInvalid.ReplaceAllString(k, "_")
	k = keyCollapse.ReplaceAllString(k, "_")
	k = strings.Trim(k, "_")
	if len(k) > maxKeyLength {
		k = k[:maxKeyLength]
		k = strings.Trim(k, "_")
	}
	return k
}
