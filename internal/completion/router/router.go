// Package router builds the configured completion.Backend(s) and selects
// the primary one. It makes no model_fast/model_complex choice: each
// backend uses its own configured model_fast unless turn.Model names
// another. It lives in its own package (rather than internal/completion
// itself) because it must import both internal/completion/subprocess and
// internal/completion/httpbackend, which both import internal/completion.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/completion/httpbackend"
	"github.com/omegacore/omegad/internal/completion/subprocess"
	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/mcp"
	"github.com/omegacore/omegad/internal/sandbox"
	"github.com/omegacore/omegad/internal/tools"
)

// Router picks which configured backend handles a turn. The primary
// backend is whichever family config.Provider.Default names; every other
// configured family is kept available so a call can still name a model
// slug belonging to a different backend if the orchestrator asks for one
// explicitly (cross-backend fallback is not attempted automatically).
type Router struct {
	primary  completion.Backend
	backends map[string]completion.Backend
}

// New builds every backend present in cfg and selects cfg.Default as
// primary. workspace is the shared workspace root the subprocess backend's
// cwd is pinned to; registry/mcpMgr back the HTTP backends' agentic loop.
func New(cfg config.ProviderConfig, workspace string, sb sandbox.Manager, registry *tools.Registry, mcpMgr *mcp.Manager) (*Router, error) {
	backends := make(map[string]completion.Backend)

	if cfg.Subprocess.CLIPath != "" {
		backends["subprocess"] = subprocess.New(
			cfg.Subprocess.CLIPath,
			cfg.Subprocess.ModelFast,
			cfg.Subprocess.ModelComplex,
			cfg.Subprocess.MaxTurns,
			durationMinutes(cfg.Subprocess.TimeoutMinutes),
			cfg.Subprocess.ResumeRetries,
			workspace,
			sb,
		)
	}
	if p := cfg.Anthropic; p.APIKey != "" {
		backends["anthropic"] = httpbackend.NewBackend(
			httpbackend.NewAnthropicBackend(p.APIKey, p.ModelFast),
			registry, mcpMgr,
		)
	}
	if p := cfg.OpenAI; p.APIKey != "" {
		backends["openai"] = httpbackend.NewBackend(
			httpbackend.NewOpenAIBackend("openai", p.APIKey, p.APIBase, p.ModelFast),
			registry, mcpMgr,
		)
	}
	if p := cfg.Ollama; p.APIBase != "" {
		backends["ollama"] = httpbackend.NewBackend(
			httpbackend.NewOpenAIBackend("ollama", "ollama", p.APIBase, p.ModelFast),
			registry, mcpMgr,
		)
	}
	if p := cfg.OpenRouter; p.APIKey != "" {
		backends["openrouter"] = httpbackend.NewBackend(
			httpbackend.NewOpenAIBackend("openrouter", p.APIKey, orDefault(p.APIBase, "https://openrouter.ai/api/v1"), p.ModelFast),
			registry, mcpMgr,
		)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("router: no completion backend configured")
	}

	name := cfg.Default
	if name == "" {
		name = "subprocess"
	}
	primary, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("router: default backend %q is not configured", name)
	}

	return &Router{primary: primary, backends: backends}, nil
}

// Primary returns the configured default backend.
func (r *Router) Primary() completion.Backend { return r.primary }

// Backend looks up a specific configured backend by name, for callers that
// need a non-default family explicitly.
func (r *Router) Backend(name string) (completion.Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Complete routes a turn to the primary backend, passing turn.Model through
// unchanged. The gateway pipeline leaves turn.Model empty, so the backend
// uses its configured model_fast.
func (r *Router) Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error) {
	return r.primary.Complete(ctx, turn)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationMinutes(m int) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m) * time.Minute
}
