package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompat talks to any OpenAI-compatible chat completion endpoint.
// It is the adapter for both the local llama.cpp server and hosted
// OpenAI-style remotes; only the base URL and model differ.
type OpenAICompat struct {
	client        *openai.Client
	name          string
	model         string
	contextLength int
}

// OpenAICompatConfig configures an OpenAICompat provider.
type OpenAICompatConfig struct {
	// Name identifies the provider in routing and logs (e.g. "local").
	Name string

	// BaseURL is the server base URL, e.g. "http://127.0.0.1:8080/v1".
	BaseURL string

	// APIKey may be empty for local servers.
	APIKey string

	// Model is the model name sent with every request.
	Model string

	// ContextLength is the window the caller should fit prompts against.
	ContextLength int

	// HTTPTimeout bounds each request. Zero means the SDK default.
	HTTPTimeout time.Duration
}

// NewOpenAICompat creates a provider for an OpenAI-compatible server.
func NewOpenAICompat(cfg OpenAICompatConfig) (*OpenAICompat, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai-compat: model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = 32768
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPTimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &OpenAICompat{
		client:        openai.NewClientWithConfig(clientCfg),
		name:          cfg.Name,
		model:         cfg.Model,
		contextLength: cfg.ContextLength,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAICompat) Name() string { return p.name }

// ContextLength returns the configured context window.
func (p *OpenAICompat) ContextLength() int { return p.contextLength }

// Chat sends the request and returns the final response. When OnToken is set
// and the request carries no tools, the response is streamed token by token.
func (p *OpenAICompat) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		Temperature: req.Options.Temperature,
	}
	if req.Options.MaxTokens > 0 {
		apiReq.MaxTokens = req.Options.MaxTokens
	}

	if req.Options.OnToken != nil && len(req.Tools) == 0 {
		return p.chatStream(ctx, apiReq, req.Options.OnToken)
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, wrapChatError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: chat: empty choices", p.name)
	}
	msg := resp.Choices[0].Message
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: fromOpenAIToolCalls(msg.ToolCalls),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}, nil
}

func (p *OpenAICompat) chatStream(ctx context.Context, apiReq openai.ChatCompletionRequest, onToken func(string)) (*ChatResponse, error) {
	apiReq.Stream = true
	apiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, wrapChatError(p.name, err)
	}
	defer stream.Close()

	resp := &ChatResponse{Model: p.model}
	var content string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapChatError(p.name, err)
		}
		if chunk.Usage != nil {
			resp.Usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			content += delta
			onToken(delta)
		}
	}
	resp.Content = content
	return resp, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := openai.ChatCompletionMessage{Role: string(m.Role)}
		if len(m.Parts) > 0 {
			for _, part := range m.Parts {
				switch part.Type {
				case "image_url":
					cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			cm.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		cm.ToolCallID = m.ToolCallID
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			// Tolerate malformed arguments; the tool layer reports them back
			// to the model as execution failures.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		out = append(out, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out
}
