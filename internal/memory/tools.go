package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beaconhq/beacon/internal/tools"
)

// SearchTool exposes hybrid retrieval to the model.
type SearchTool struct {
	store *Store

	// Limit bounds results per call; zero means 5.
	Limit int
}

func NewSearchTool(store *Store) *SearchTool { return &SearchTool{store: store} }

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Description() string {
	return "Search long-term memory. Returns the most relevant stored facts, preferences, decisions and lessons for a query."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":    map[string]any{"type": "string", "description": "What to look for"},
			"category": map[string]any{"type": "string", "description": "Optional category filter (fact, preference, decision, project, entity, lesson)"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any, _ string) (*tools.Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return &tools.Result{Success: false, Output: "A query is required."}, nil
	}
	category, _ := args["category"].(string)

	limit := t.Limit
	if limit <= 0 {
		limit = 5
	}
	hits, err := t.store.SearchHybrid(ctx, query, limit, Weights{}, Filters{Category: category})
	if err != nil {
		return &tools.Result{Success: false, Output: "Search failed: " + err.Error()}, nil
	}
	if len(hits) == 0 {
		return &tools.Result{Success: true, Output: "No matching memories."}, nil
	}

	var b strings.Builder
	keys := make([]string, 0, len(hits))
	for _, hit := range hits {
		fmt.Fprintf(&b, "%s (%.2f): %s\n", hit.Record.Key, hit.Score, hit.Record.Value)
		keys = append(keys, hit.Record.Key)
	}
	// Retrieval counts as use; keeps these records out of garbage collection.
	_ = t.store.RecordAccess(ctx, keys)
	return &tools.Result{Success: true, Output: b.String()}, nil
}

// SaveTool lets the model write a durable memory.
type SaveTool struct {
	store *Store

	// SessionID scopes collision handling for agent-written keys.
	SessionID string
}

func NewSaveTool(store *Store) *SaveTool { return &SaveTool{store: store} }

func (t *SaveTool) Name() string { return "memory_save" }

func (t *SaveTool) Description() string {
	return "Save a durable fact, preference, decision or lesson to long-term memory under a short snake_case key."
}

func (t *SaveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":      map[string]any{"type": "string", "description": "Short snake_case key, e.g. favorite_editor"},
			"value":    map[string]any{"type": "string", "description": "The content to remember"},
			"category": map[string]any{"type": "string", "description": "One of fact, preference, decision, project, entity, lesson"},
		},
		"required": []string{"key", "value"},
	}
}

func (t *SaveTool) Execute(ctx context.Context, args map[string]any, _ string) (*tools.Result, error) {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" || value == "" {
		return &tools.Result{Success: false, Output: "Both key and value are required."}, nil
	}
	category, _ := args["category"].(string)

	finalKey, err := t.store.Set(ctx, key, value, SetOptions{
		Source:    SourceAuto,
		Category:  category,
		SessionID: t.SessionID,
	})
	if err != nil {
		return &tools.Result{Success: false, Output: "Save failed: " + err.Error()}, nil
	}
	return &tools.Result{Success: true, Output: "Saved as " + finalKey + "."}, nil
}

// WorkingSetTool writes short-lived scratch state with a TTL.
type WorkingSetTool struct {
	store *Store
}

func NewWorkingSetTool(store *Store) *WorkingSetTool { return &WorkingSetTool{store: store} }

func (t *WorkingSetTool) Name() string { return "working_memory_set" }

func (t *WorkingSetTool) Description() string {
	return "Store short-lived working state (current task focus, intermediate results). Expires automatically; default TTL one hour."
}

func (t *WorkingSetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":         map[string]any{"type": "string", "description": "Working memory key"},
			"value":       map[string]any{"type": "string", "description": "The state to hold"},
			"context":     map[string]any{"type": "string", "description": "Optional note on why this is held"},
			"ttl_minutes": map[string]any{"type": "number", "description": "Minutes until expiry; default 60"},
		},
		"required": []string{"key", "value"},
	}
}

func (t *WorkingSetTool) Execute(ctx context.Context, args map[string]any, _ string) (*tools.Result, error) {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" || value == "" {
		return &tools.Result{Success: false, Output: "Both key and value are required."}, nil
	}
	contextNote, _ := args["context"].(string)
	var ttl time.Duration
	if minutes, ok := args["ttl_minutes"].(float64); ok && minutes > 0 {
		ttl = time.Duration(minutes * float64(time.Minute))
	}

	if err := t.store.SetWorking(ctx, key, value, contextNote, ttl); err != nil {
		return &tools.Result{Success: false, Output: "Store failed: " + err.Error()}, nil
	}
	return &tools.Result{Success: true, Output: "Held " + key + " in working memory."}, nil
}
