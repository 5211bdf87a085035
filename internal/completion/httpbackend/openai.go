package httpbackend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/omegacore/omegad/internal/completion"
)

// OpenAIBackend implements completion.Provider against any OpenAI-style
// chat-completions endpoint: OpenAI itself, Ollama's OpenAI-compatible
// server, or OpenRouter — they all speak the same wire format, so one
// backend with a configurable base URL covers all three (per SPEC_FULL.md).
type OpenAIBackend struct {
	client       openai.Client
	name         string
	defaultModel string
}

// NewOpenAIBackend builds a backend for the given base URL. Pass
// "https://api.openai.com/v1" for OpenAI itself, an Ollama server's
// "http://host:11434/v1" for local models, or OpenRouter's endpoint.
func NewOpenAIBackend(name, apiKey, baseURL, defaultModel string) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{
		client:       openai.NewClient(opts...),
		name:         name,
		defaultModel: defaultModel,
	}
}

func (b *OpenAIBackend) Name() string        { return b.name }
func (b *OpenAIBackend) DefaultModel() string { return b.defaultModel }

func (b *OpenAIBackend) Chat(ctx context.Context, req completion.ChatRequest) (*completion.ChatResponse, error) {
	params := buildOpenAIParams(req, b.defaultModel)

	completionResp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion: %w", b.name, err)
	}
	if len(completionResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices returned", b.name)
	}
	return parseOpenAICompletion(completionResp), nil
}

func (b *OpenAIBackend) ChatStream(ctx context.Context, req completion.ChatRequest, onChunk func(completion.StreamChunk)) (*completion.ChatResponse, error) {
	params := buildOpenAIParams(req, b.defaultModel)

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" && onChunk != nil {
			onChunk(completion.StreamChunk{Content: chunk.Choices[0].Delta.Content})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s: stream: %w", b.name, err)
	}
	if onChunk != nil {
		onChunk(completion.StreamChunk{Done: true})
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("%s: stream produced no choices", b.name)
	}

	return parseOpenAICompletion(&acc.ChatCompletion), nil
}

func buildOpenAIParams(req completion.ChatRequest, defaultModel string) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)},
					ToolCalls: calls,
				},
			})
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if v, ok := req.Options[completion.OptMaxTokens].(int); ok {
		params.MaxTokens = openai.Int(int64(v))
	}
	if v, ok := req.Options[completion.OptTemperature].(float64); ok {
		params.Temperature = openai.Float(v)
	}
	if len(req.Tools) > 0 {
		params.Tools = translateOpenAITools(req.Tools)
	}
	return params
}

func translateOpenAITools(tools []completion.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  openai.FunctionParameters(t.Function.Parameters),
		}))
	}
	return out
}

func parseOpenAICompletion(resp *openai.ChatCompletion) *completion.ChatResponse {
	choice := resp.Choices[0]
	result := &completion.ChatResponse{Content: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		fn := tc.Function
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(fn.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, completion.ToolCall{
			ID:        tc.ID,
			Name:      fn.Name,
			Arguments: args,
		})
	}

	switch choice.FinishReason {
	case "tool_calls":
		result.FinishReason = "tool_calls"
	case "length":
		result.FinishReason = "length"
	default:
		result.FinishReason = "stop"
	}

	result.Usage = &completion.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}

	return result
}
