package httpbackend

import (
	"context"

	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/mcp"
	"github.com/omegacore/omegad/internal/tools"
)

// Backend adapts a Loop (provider + shared tool registry + MCP manager)
// into completion.Backend, the interface the orchestrator dispatches to.
type Backend struct {
	loop     *Loop
	provider completion.Provider
}

// NewBackend wires one HTTP provider into the shared agentic tool-call loop.
func NewBackend(provider completion.Provider, registry *tools.Registry, mcpMgr *mcp.Manager) *Backend {
	return &Backend{loop: NewLoop(provider, registry, mcpMgr), provider: provider}
}

func (b *Backend) Name() string { return b.provider.Name() }

// IsAvailable for an HTTP backend just means "configured" — the caller
// constructs one of these only when an API key/base URL is present, so
// there is nothing further to probe without spending a real request.
func (b *Backend) IsAvailable(ctx context.Context) bool { return true }

func (b *Backend) Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error) {
	return b.loop.Run(ctx, turn)
}
