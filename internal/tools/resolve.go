package tools

import (
	"encoding/json"
	"strings"

	"github.com/beaconhq/beacon/internal/providers"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Resolver remaps near-miss tool names from smaller models ("Shell-Exec",
// "memory.search") onto registered tools, and re-shapes the arguments to the
// target schema before the call is declared unknown.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a Resolver bound to a registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve attempts to map the call onto a registered tool. On success it
// returns the tool and a call with the canonical name and schema-filtered
// arguments; ok is false when no safe mapping exists.
func (r *Resolver) Resolve(call providers.ToolCall) (Tool, providers.ToolCall, bool) {
	want := canonical(call.Name)
	if want == "" {
		return nil, call, false
	}
	for _, name := range r.registry.Names() {
		if canonical(name) != want {
			continue
		}
		tool, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		args := filterToSchema(call.Arguments, tool.Parameters())
		if !validateArgs(args, tool.Parameters()) {
			return nil, call, false
		}
		remapped := call
		remapped.Name = name
		remapped.Arguments = args
		return tool, remapped, true
	}
	return nil, call, false
}

// canonical lowercases and strips everything but letters and digits, so
// "Shell-Exec" and "shell_exec" collide.
func canonical(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// filterToSchema drops argument keys the schema does not declare.
func filterToSchema(args map[string]any, schema map[string]any) map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if _, declared := props[key]; declared {
			out[key] = value
		}
	}
	return out
}

// validateArgs checks the re-shaped arguments against the tool's JSON schema.
// Schema compilation failures validate permissively: the tool itself is the
// last line of defense for bad arguments.
func validateArgs(args map[string]any, schema map[string]any) bool {
	raw, err := json.Marshal(schema)
	if err != nil {
		return true
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", strings.NewReader(string(raw))); err != nil {
		return true
	}
	compiled, err := compiler.Compile("tool.json")
	if err != nil {
		return true
	}
	// Round-trip through JSON so numbers and nested maps take the types the
	// validator expects.
	blob, err := json.Marshal(args)
	if err != nil {
		return false
	}
	var v any
	if err := json.Unmarshal(blob, &v); err != nil {
		return false
	}
	return compiled.Validate(v) == nil
}
