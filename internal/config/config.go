// Package config loads and validates the gateway's typed TOML configuration
// tree. Every section is optional; Default() materializes sensible values
// and Load() overlays a config file and then environment-variable secrets
// on top of it.
package config

import (
	"sync"

	"github.com/omegacore/omegad/internal/sandbox"
)

// Config is the root configuration for the omegad gateway.
type Config struct {
	Omega     OmegaConfig     `toml:"omega"`
	Auth      AuthConfig      `toml:"auth"`
	Provider  ProviderConfig  `toml:"provider"`
	Channel   ChannelConfig   `toml:"channel"`
	Memory    MemoryConfig    `toml:"memory"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	API       APIConfig       `toml:"api"`
	Sandbox   SandboxConfig   `toml:"sandbox"`

	mu sync.RWMutex
}

// OmegaConfig holds identity and ambient runtime settings.
type OmegaConfig struct {
	Name     string `toml:"name"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
}

// AuthConfig gates who may talk to the gateway at all (stage 2 of the pipeline).
type AuthConfig struct {
	Enabled     bool   `toml:"enabled"`
	DenyMessage string `toml:"deny_message"`
}

// ProviderConfig selects the default completion backend and carries one
// subsection per backend family.
type ProviderConfig struct {
	Default    string               `toml:"default"`
	Subprocess SubprocessBackendCfg `toml:"subprocess"`
	Anthropic  HTTPBackendCfg       `toml:"anthropic"`
	OpenAI     HTTPBackendCfg       `toml:"openai"`
	Ollama     HTTPBackendCfg       `toml:"ollama"`
	OpenRouter HTTPBackendCfg       `toml:"openrouter"`
	Gemini     HTTPBackendCfg       `toml:"gemini"`
}

// SubprocessBackendCfg configures the primary local-CLI completion backend.
type SubprocessBackendCfg struct {
	CLIPath        string `toml:"cli_path"`
	ModelFast      string `toml:"model_fast"`
	ModelComplex   string `toml:"model_complex"`
	MaxTurns       int    `toml:"max_turns"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
	ResumeRetries  int    `toml:"resume_retries"`
}

// HTTPBackendCfg configures one of the HTTP completion backends
// (Anthropic, OpenAI, Ollama, OpenRouter) sharing the agentic tool-call
// loop. A Gemini section is loaded too, but router.New builds no backend
// from it.
type HTTPBackendCfg struct {
	APIKey       string `toml:"-"` // secret: env override only
	APIBase      string `toml:"api_base,omitempty"`
	ModelFast    string `toml:"model_fast,omitempty"`
	ModelComplex string `toml:"model_complex,omitempty"`
	MaxTurns     int    `toml:"max_turns,omitempty"`
}

// ChannelConfig carries per-channel configuration.
type ChannelConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
}

// TelegramConfig configures the Telegram long-poll channel.
type TelegramConfig struct {
	Enabled       bool    `toml:"enabled"`
	BotToken      string  `toml:"-"` // secret: env override only
	AllowedUsers  []int64 `toml:"allowed_users,omitempty"`
	WhisperAPIKey string  `toml:"-"` // secret: env override only
}

// WhatsAppConfig configures the whatsmeow multi-device channel.
type WhatsAppConfig struct {
	Enabled       bool     `toml:"enabled"`
	AllowedUsers  []string `toml:"allowed_users,omitempty"`
	WhisperAPIKey string   `toml:"-"` // secret: env override only
}

// MemoryConfig configures the SQLite-backed memory store.
type MemoryConfig struct {
	Backend            string `toml:"backend"`
	DBPath             string `toml:"db_path"`
	MaxContextMessages int    `toml:"max_context_messages"`
}

// SchedulerConfig configures the reminder/action-task poll loop.
type SchedulerConfig struct {
	Enabled          bool `toml:"enabled"`
	PollIntervalSecs int  `toml:"poll_interval_secs"`
}

// HeartbeatConfig configures the clock-aligned proactive heartbeat loop.
type HeartbeatConfig struct {
	Enabled         bool   `toml:"enabled"`
	IntervalMinutes int    `toml:"interval_minutes"`       // 1-1440
	ActiveStart     string `toml:"active_start,omitempty"` // "HH:MM"
	ActiveEnd       string `toml:"active_end,omitempty"`   // "HH:MM"
	Channel         string `toml:"channel,omitempty"`
	ReplyTarget     string `toml:"reply_target,omitempty"`
}

// APIConfig configures the optional HTTP management surface.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"-"` // secret: env override only
}

// SandboxConfig configures the OS-level subprocess sandbox (§4.8). It is not
// in the spec's recognized key table, but ambient sandboxing is carried
// regardless of Non-goals scoping — see sandbox.Manager.
type SandboxConfig struct {
	Backend         string   `toml:"backend,omitempty"` // "auto" (default), "off"
	ExtraReadAllow  []string `toml:"extra_read_allow,omitempty"`
	ExtraWriteAllow []string `toml:"extra_write_allow,omitempty"`
	ExtraDeny       []string `toml:"extra_deny,omitempty"`
}

// ToSandboxConfig converts the TOML sandbox section into sandbox.Config,
// anchoring the workspace root from the resolved data directory.
func (sc SandboxConfig) ToSandboxConfig(workspaceRoot string) sandbox.Config {
	backend := sc.Backend
	if backend == "" {
		backend = "auto"
	}
	return sandbox.Config{
		WorkspaceRoot:   workspaceRoot,
		Backend:         backend,
		ExtraReadAllow:  sc.ExtraReadAllow,
		ExtraWriteAllow: sc.ExtraWriteAllow,
		ExtraDeny:       sc.ExtraDeny,
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Omega = src.Omega
	c.Auth = src.Auth
	c.Provider = src.Provider
	c.Channel = src.Channel
	c.Memory = src.Memory
	c.Scheduler = src.Scheduler
	c.Heartbeat = src.Heartbeat
	c.API = src.API
	c.Sandbox = src.Sandbox
}
