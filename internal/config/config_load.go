package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// DefaultAgentName is used when omega.name is unset.
const DefaultAgentName = "omega"

// Default returns a Config with sensible defaults. Load() starts from this
// and overlays the file, then env vars, on top.
func Default() *Config {
	return &Config{
		Omega: OmegaConfig{
			Name:     DefaultAgentName,
			DataDir:  "~/.omegad",
			LogLevel: "info",
		},
		Auth: AuthConfig{
			Enabled:     false,
			DenyMessage: "Sorry, you're not authorized to use this assistant.",
		},
		Provider: ProviderConfig{
			Default: "subprocess",
			Subprocess: SubprocessBackendCfg{
				CLIPath:        "claude",
				ModelFast:      "haiku",
				ModelComplex:   "sonnet",
				MaxTurns:       40,
				TimeoutMinutes: 60,
				ResumeRetries:  5,
			},
		},
		Memory: MemoryConfig{
			Backend:            "sqlite",
			DBPath:             "data/memory.db",
			MaxContextMessages: 40,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			PollIntervalSecs: 60,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
			Channel:         "",
			ReplyTarget:     "last",
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8790,
		},
		Sandbox: SandboxConfig{
			Backend: "auto",
		},
	}
}

// Load reads config from a TOML file, applies defaults for unset sections,
// then overlays secrets from the environment. A missing file is not an
// error — Default() plus env overrides is a valid configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields the TOML file left unset. Unlike
// Default(), this is safe to call on a partially-populated Config after
// unmarshal, since toml.Unmarshal only ever sets fields present in the file.
func (c *Config) ApplyDefaults() {
	d := Default()

	if c.Omega.Name == "" {
		c.Omega.Name = d.Omega.Name
	}
	if c.Omega.DataDir == "" {
		c.Omega.DataDir = d.Omega.DataDir
	}
	if c.Omega.LogLevel == "" {
		c.Omega.LogLevel = d.Omega.LogLevel
	}
	if c.Auth.DenyMessage == "" {
		c.Auth.DenyMessage = d.Auth.DenyMessage
	}
	if c.Provider.Default == "" {
		c.Provider.Default = d.Provider.Default
	}
	if c.Provider.Subprocess.CLIPath == "" {
		c.Provider.Subprocess.CLIPath = d.Provider.Subprocess.CLIPath
	}
	if c.Provider.Subprocess.ModelFast == "" {
		c.Provider.Subprocess.ModelFast = d.Provider.Subprocess.ModelFast
	}
	if c.Provider.Subprocess.ModelComplex == "" {
		c.Provider.Subprocess.ModelComplex = d.Provider.Subprocess.ModelComplex
	}
	if c.Provider.Subprocess.MaxTurns == 0 {
		c.Provider.Subprocess.MaxTurns = d.Provider.Subprocess.MaxTurns
	}
	if c.Provider.Subprocess.TimeoutMinutes == 0 {
		c.Provider.Subprocess.TimeoutMinutes = d.Provider.Subprocess.TimeoutMinutes
	}
	if c.Provider.Subprocess.ResumeRetries == 0 {
		c.Provider.Subprocess.ResumeRetries = d.Provider.Subprocess.ResumeRetries
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = d.Memory.Backend
	}
	if c.Memory.DBPath == "" {
		c.Memory.DBPath = d.Memory.DBPath
	}
	if c.Memory.MaxContextMessages == 0 {
		c.Memory.MaxContextMessages = d.Memory.MaxContextMessages
	}
	if c.Scheduler.PollIntervalSecs == 0 {
		c.Scheduler.PollIntervalSecs = d.Scheduler.PollIntervalSecs
	}
	if c.Heartbeat.IntervalMinutes == 0 {
		c.Heartbeat.IntervalMinutes = d.Heartbeat.IntervalMinutes
	}
	if c.Heartbeat.ReplyTarget == "" {
		c.Heartbeat.ReplyTarget = d.Heartbeat.ReplyTarget
	}
	if c.API.Host == "" {
		c.API.Host = d.API.Host
	}
	if c.API.Port == 0 {
		c.API.Port = d.API.Port
	}
	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = d.Sandbox.Backend
	}
}

// applyEnvOverrides overlays secrets from the environment. Provider API keys
// and channel tokens are never read from the TOML file — only from env —
// so a leaked config file never leaks a credential.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("OMEGAD_ANTHROPIC_API_KEY", &c.Provider.Anthropic.APIKey)
	envStr("OMEGAD_OPENAI_API_KEY", &c.Provider.OpenAI.APIKey)
	envStr("OMEGAD_OLLAMA_API_KEY", &c.Provider.Ollama.APIKey)
	envStr("OMEGAD_OPENROUTER_API_KEY", &c.Provider.OpenRouter.APIKey)
	envStr("OMEGAD_GEMINI_API_KEY", &c.Provider.Gemini.APIKey)

	envStr("OMEGAD_TELEGRAM_BOT_TOKEN", &c.Channel.Telegram.BotToken)
	envStr("OMEGAD_TELEGRAM_WHISPER_API_KEY", &c.Channel.Telegram.WhisperAPIKey)
	envStr("OMEGAD_WHATSAPP_WHISPER_API_KEY", &c.Channel.WhatsApp.WhisperAPIKey)

	envStr("OMEGAD_API_KEY", &c.API.APIKey)

	if c.Channel.Telegram.BotToken != "" {
		c.Channel.Telegram.Enabled = true
	}

	if v := os.Getenv("OMEGAD_DATA_DIR"); v != "" {
		c.Omega.DataDir = v
	}
	if v := os.Getenv("OMEGAD_LOG_LEVEL"); v != "" {
		c.Omega.LogLevel = v
	}
	if v := os.Getenv("OMEGAD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.API.Port = port
		}
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Exported for callers that mutate Config in place and need to
// restore runtime secrets afterward.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// RequireNonRoot refuses to start as effective uid 0, per §6's root-user guard.
func RequireNonRoot() error {
	if os.Geteuid() == 0 {
		return fmt.Errorf("config: refusing to run as root (effective uid 0)")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// DataDirPath returns the expanded, absolute data directory.
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dir := ExpandHome(c.Omega.DataDir)
	if !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	return dir
}

// WorkspacePath returns the backend cwd, "<data_dir>/workspace".
func (c *Config) WorkspacePath() string {
	return filepath.Join(c.DataDirPath(), "workspace")
}

// MemoryDBPath returns the resolved SQLite database path, anchored under
// data_dir when the configured path is relative.
func (c *Config) MemoryDBPath() string {
	c.mu.RLock()
	p := c.Memory.DBPath
	c.mu.RUnlock()
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDirPath(), p)
}
