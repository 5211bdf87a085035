package router

import (
	"testing"

	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/mcp"
	"github.com/omegacore/omegad/internal/tools"
)

func TestNew_NoBackendsConfigured(t *testing.T) {
	_, err := New(config.ProviderConfig{}, t.TempDir(), nil, tools.NewRegistry(), mcp.NewManager(tools.NewRegistry()))
	if err == nil {
		t.Fatal("expected error when no backend is configured")
	}
}

func TestNew_SubprocessDefault(t *testing.T) {
	cfg := config.ProviderConfig{
		Default: "subprocess",
		Subprocess: config.SubprocessBackendCfg{
			CLIPath: "/bin/true",
		},
	}
	r, err := New(cfg, t.TempDir(), nil, tools.NewRegistry(), mcp.NewManager(tools.NewRegistry()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Primary().Name() != "subprocess" {
		t.Fatalf("Primary().Name() = %q, want %q", r.Primary().Name(), "subprocess")
	}
	if _, ok := r.Backend("anthropic"); ok {
		t.Fatal("expected anthropic backend to be absent when unconfigured")
	}
}

func TestNew_DefaultNotConfigured(t *testing.T) {
	cfg := config.ProviderConfig{
		Default: "anthropic",
		Subprocess: config.SubprocessBackendCfg{
			CLIPath: "/bin/true",
		},
	}
	if _, err := New(cfg, t.TempDir(), nil, tools.NewRegistry(), mcp.NewManager(tools.NewRegistry())); err == nil {
		t.Fatal("expected error when default backend is not configured")
	}
}

func TestNew_AnthropicConfigured(t *testing.T) {
	cfg := config.ProviderConfig{
		Default: "anthropic",
		Anthropic: config.HTTPBackendCfg{
			APIKey:    "test-key",
			ModelFast: "claude-haiku",
		},
	}
	r, err := New(cfg, t.TempDir(), nil, tools.NewRegistry(), mcp.NewManager(tools.NewRegistry()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Primary().Name() != "anthropic" {
		t.Fatalf("Primary().Name() = %q, want %q", r.Primary().Name(), "anthropic")
	}
}
