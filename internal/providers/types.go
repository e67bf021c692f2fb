// Package providers defines the uniform chat interface the agent loop speaks
// to language models, plus adapters for an OpenAI-compatible local server
// (llama.cpp and friends) and Anthropic's API as the remote tier.
package providers

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one element of a multimodal message body.
type Part struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is one entry in an ordered conversation.
// Content carries plain text; Parts carries multimodal bodies. When Parts is
// non-empty it takes precedence over Content.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Parts      []Part     `json:"parts,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the textual body of the message, flattening parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool in JSON-schema terms.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage counts tokens consumed by a chat call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ChatOptions tunes a single chat call. OnToken, when set, receives streamed
// tokens as they arrive; providers that do not stream never call it and still
// return the final response.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
	OnToken     func(token string)
}

// ChatRequest is one round-trip to a provider.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Options  ChatOptions
}

// ChatResponse is the provider's answer to a ChatRequest.
type ChatResponse struct {
	Content     string     `json:"content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Usage       Usage      `json:"usage"`
	Model       string     `json:"model"`
	ContextSize int        `json:"context_size,omitempty"`
}

// Provider is the uniform LLM interface. ContextLength reports the configured
// window the caller should fit prompts against; Chat may still fail with a
// *ContextSizeError carrying the server's actual window.
type Provider interface {
	Name() string
	ContextLength() int
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}
