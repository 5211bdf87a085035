// Package httpbackend implements completion.Provider over hosted HTTP APIs,
// sharing one agentic tool-call loop (see loop.go) across every provider.
package httpbackend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/omegacore/omegad/internal/completion"
)

const defaultClaudeModel = "claude-sonnet-4-5-20250929"

// AnthropicBackend implements completion.Provider against the hosted
// Anthropic Messages API via the official SDK.
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	retryConfig  completion.RetryConfig
}

// NewAnthropicBackend builds a backend authenticated with a plain API key.
func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	if model == "" {
		model = defaultClaudeModel
	}
	return &AnthropicBackend{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: model,
		retryConfig:  completion.DefaultRetryConfig(),
	}
}

func (b *AnthropicBackend) Name() string        { return "anthropic" }
func (b *AnthropicBackend) DefaultModel() string { return b.defaultModel }

func (b *AnthropicBackend) Chat(ctx context.Context, req completion.ChatRequest) (*completion.ChatResponse, error) {
	params, err := buildAnthropicParams(req, b.defaultModel)
	if err != nil {
		return nil, err
	}
	return completion.RetryDo(ctx, b.retryConfig, func() (*completion.ChatResponse, error) {
		msg, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return nil, wrapAnthropicErr(err)
		}
		return parseAnthropicMessage(msg), nil
	})
}

func (b *AnthropicBackend) ChatStream(ctx context.Context, req completion.ChatRequest, onChunk func(completion.StreamChunk)) (*completion.ChatResponse, error) {
	params, err := buildAnthropicParams(req, b.defaultModel)
	if err != nil {
		return nil, err
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic: accumulate stream event: %w", err)
		}

		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if onChunk != nil {
					onChunk(completion.StreamChunk{Content: d.Text})
				}
			case anthropic.ThinkingDelta:
				if onChunk != nil {
					onChunk(completion.StreamChunk{Thinking: d.Thinking})
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: stream: %w", err)
	}
	if onChunk != nil {
		onChunk(completion.StreamChunk{Done: true})
	}

	return parseAnthropicMessage(&acc), nil
}

func buildAnthropicParams(req completion.ChatRequest, defaultModel string) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})

		case "user":
			if len(msg.Images) > 0 {
				var blocks []anthropic.ContentBlockParamUnion
				for _, img := range msg.Images {
					blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
				}
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			} else {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}

		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

		case "tool":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	maxTokens := int64(4096)
	if v, ok := req.Options[completion.OptMaxTokens].(int); ok {
		maxTokens = int64(v)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if v, ok := req.Options[completion.OptTemperature].(float64); ok {
		params.Temperature = anthropic.Float(v)
	}
	if level, ok := req.Options[completion.OptThinkingLevel].(string); ok && level != "" && level != "off" {
		budget := thinkingBudget(level)
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(budget)},
		}
		if maxTokens < int64(budget)+4096 {
			params.MaxTokens = int64(budget) + 8192
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = translateAnthropicTools(req.Tools)
	}

	return params, nil
}

func translateAnthropicTools(tools []completion.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Function.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Function.Parameters["properties"],
			},
		}
		if t.Function.Description != "" {
			tool.Description = anthropic.String(t.Function.Description)
		}
		if req, ok := t.Function.Parameters["required"].([]string); ok {
			tool.InputSchema.Required = req
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func thinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "high":
		return 32000
	default:
		return 10000
	}
}

func parseAnthropicMessage(msg *anthropic.Message) *completion.ChatResponse {
	result := &completion.ChatResponse{}
	thinkingChars := 0

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += b.Text
		case anthropic.ThinkingBlock:
			result.Thinking += b.Thinking
			thinkingChars += len(b.Thinking)
		case anthropic.ToolUseBlock:
			args := make(map[string]interface{})
			_ = json.Unmarshal(b.Input, &args)
			result.ToolCalls = append(result.ToolCalls, completion.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		result.FinishReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		result.FinishReason = "length"
	default:
		result.FinishReason = "stop"
	}

	result.Usage = &completion.Usage{
		PromptTokens:        int(msg.Usage.InputTokens),
		CompletionTokens:    int(msg.Usage.OutputTokens),
		TotalTokens:         int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(msg.Usage.CacheReadInputTokens),
	}
	if thinkingChars > 0 {
		result.Usage.ThinkingTokens = thinkingChars / 4
	}

	if len(result.ToolCalls) > 0 {
		if raw, err := json.Marshal(msg.Content); err == nil {
			result.RawAssistantContent = raw
		}
	}

	return result
}

func wrapAnthropicErr(err error) error {
	var apierr *anthropic.Error
	if ok := asAnthropicAPIError(err, &apierr); ok {
		return &completion.HTTPError{
			Status: apierr.StatusCode,
			Body:   apierr.Error(),
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}

func asAnthropicAPIError(err error, target **anthropic.Error) bool {
	apierr, ok := err.(*anthropic.Error)
	if !ok {
		return false
	}
	*target = apierr
	return true
}
