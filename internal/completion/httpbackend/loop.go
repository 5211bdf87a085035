package httpbackend

import (
	"context"
	"fmt"
	"time"

	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/mcp"
	"github.com/omegacore/omegad/internal/tools"
)

// defaultMaxTurns bounds the agentic tool-call loop when TurnRequest.MaxTurns
// is unset, preventing a misbehaving model from looping forever.
const defaultMaxTurns = 25

// Loop drives the shared agentic tool-call loop described in spec ยง4.5: send
// messages, and if the model requests tool calls, execute them and resend
// until it returns a plain text turn or MaxTurns is exhausted. Every HTTP
// backend (Anthropic, OpenAI-compatible) is just a Provider plugged into one
// Loop, so the turn-taking logic is written once.
type Loop struct {
	provider completion.Provider
	registry *tools.Registry
	mcpMgr   *mcp.Manager
}

// NewLoop binds a wire-format Provider to the shared tool registry and MCP
// manager used for this turn.
func NewLoop(provider completion.Provider, registry *tools.Registry, mcpMgr *mcp.Manager) *Loop {
	return &Loop{provider: provider, registry: registry, mcpMgr: mcpMgr}
}

// Run executes one full gateway turn: optionally loads MCP servers the
// matched skill declared, then drives the provider through its tool-call
// loop until it produces a final assistant turn.
func (l *Loop) Run(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error) {
	start := time.Now()

	if l.mcpMgr != nil {
		if err := l.mcpMgr.LoadForTurn(ctx, toMCPServerConfigs(turn.MCPServers)); err != nil {
			// Partial connection failures are not fatal — the turn proceeds
			// with whichever servers did connect.
			_ = err
		}
	}

	messages := buildMessages(turn)

	var toolDefs []completion.ToolDefinition
	if turn.ToolsAllowed {
		toolDefs = l.registry.Definitions()
	}

	maxTurns := turn.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	var finalUsage completion.Usage
	var final *completion.ChatResponse

	for i := 0; i < maxTurns; i++ {
		req := completion.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    turn.Model,
		}

		resp, err := l.provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.provider.Name(), err)
		}
		if resp.Usage != nil {
			finalUsage.PromptTokens += resp.Usage.PromptTokens
			finalUsage.CompletionTokens += resp.Usage.CompletionTokens
			finalUsage.TotalTokens += resp.Usage.TotalTokens
			finalUsage.CacheCreationTokens += resp.Usage.CacheCreationTokens
			finalUsage.CacheReadTokens += resp.Usage.CacheReadTokens
			finalUsage.ThinkingTokens += resp.Usage.ThinkingTokens
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			final = resp
			break
		}

		messages = append(messages, completion.Message{
			Role:                 "assistant",
			Content:              resp.Content,
			ToolCalls:            resp.ToolCalls,
			RawAssistantContent:  resp.RawAssistantContent,
		})

		for _, call := range resp.ToolCalls {
			result := l.registry.Execute(ctx, call)
			messages = append(messages, completion.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}

		final = resp
	}

	if final == nil {
		return nil, fmt.Errorf("%s: produced no response", l.provider.Name())
	}

	return &completion.OutgoingMessage{
		Text: final.Content,
		Metadata: completion.ResponseMetadata{
			Provider:     l.provider.Name(),
			Model:        turn.Model,
			Tokens:       &finalUsage,
			ProcessingMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

func buildMessages(turn completion.TurnRequest) []completion.Message {
	messages := make([]completion.Message, 0, len(turn.History)+2)
	if turn.SystemPrompt != "" {
		messages = append(messages, completion.Message{Role: "system", Content: turn.SystemPrompt})
	}
	messages = append(messages, turn.History...)
	messages = append(messages, completion.Message{
		Role:    "user",
		Content: turn.CurrentMessage,
		Images:  turn.Images,
	})
	return messages
}

func toMCPServerConfigs(cfgs []completion.MCPServerConfig) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, mcp.ServerConfig{
			Name:       c.Name,
			Transport:  c.Transport,
			Command:    c.Command,
			Args:       c.Args,
			Env:        c.Env,
			URL:        c.URL,
			Headers:    c.Headers,
			ToolPrefix: c.ToolPrefix,
			TimeoutSec: c.TimeoutSec,
			ToolAllow:  c.ToolAllow,
			ToolDeny:   c.ToolDeny,
		})
	}
	return out
}
