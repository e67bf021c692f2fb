package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic adapts Anthropic's Messages API to the Provider interface.
// It is the remote tier: requests routed here carry the conversations the
// local model could not handle confidently.
type Anthropic struct {
	client        anthropic.Client
	model         string
	contextLength int
	maxTokens     int
}

// AnthropicConfig configures an Anthropic provider.
type AnthropicConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	ContextLength int
	// MaxTokens is the default output cap when the request sets none.
	MaxTokens int
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = 200000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:        anthropic.NewClient(opts...),
		model:         cfg.Model,
		contextLength: cfg.ContextLength,
		maxTokens:     cfg.MaxTokens,
	}, nil
}

// Name returns "remote".
func (p *Anthropic) Name() string { return "remote" }

// ContextLength returns the configured context window.
func (p *Anthropic) ContextLength() int { return p.contextLength }

// Chat sends the conversation to the Messages API and returns the final
// response. This adapter does not stream; OnToken is never invoked.
func (p *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if req.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Options.Temperature))
	}

	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = messages

	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	params.Tools = tools

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapChatError("remote", err)
	}

	resp := &ChatResponse{Model: string(msg.Model)}
	resp.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			_ = json.Unmarshal(b.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}

// toAnthropicMessages splits system-role messages out (Anthropic carries the
// system prompt as a top-level parameter) and converts the rest to content
// blocks. Tool-role messages become tool_result blocks on a user message.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam, error) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
		case RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			if len(m.Parts) > 0 {
				for _, part := range m.Parts {
					if part.Type == "image_url" {
						blocks = append(blocks, anthropic.NewImageBlock(
							anthropic.URLImageSourceParam{URL: part.ImageURL},
						))
						continue
					}
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			} else {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			return "", nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

func toAnthropicTools(defs []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, def := range defs {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: marshal schema: %w", def.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		tool.OfTool.Description = anthropic.String(def.Description)
		out = append(out, tool)
	}
	return out, nil
}
