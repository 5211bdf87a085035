// Package mcp connects the HTTP completion backends' agentic tool-call loop
// to Model Context Protocol servers declared by a matched skill, and bridges
// their tools into the shared tool registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/omegacore/omegad/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerConfig describes one MCP server a skill's SKILL.md declared. It is
// assembled at context-build time from the matched skill, not read from the
// gateway's static TOML config.
type ServerConfig struct {
	Name       string
	Transport  string // "stdio", "sse", "streamable-http"
	Command    string
	Args       []string
	Env        map[string]string
	URL        string
	Headers    map[string]string
	ToolPrefix string
	TimeoutSec int
	ToolAllow  []string
	ToolDeny   []string
}

// ServerStatus reports the connection status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	toolNames  []string
	timeoutSec int
	cancel     context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager orchestrates MCP server connections and tool registration for a
// single completion turn. Servers are loaded fresh per turn from the
// matched skill's declarations and stay connected until the next
// LoadForTurn replaces them or Stop is called.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
}

// NewManager creates a new MCP Manager bound to a tool registry.
func NewManager(registry *tools.Registry) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
	}
}

// LoadForTurn connects to the given MCP servers, registering their tools
// into the shared registry. Any servers loaded by a previous turn are
// disconnected and unregistered first.
func (m *Manager) LoadForTurn(ctx context.Context, servers []ServerConfig) error {
	m.unregisterAllTools()

	var errs []string
	for _, srv := range servers {
		if err := m.connectServer(ctx, srv.Name, srv.Transport, srv.Command, srv.Args, srv.Env, srv.URL, srv.Headers, srv.ToolPrefix, srv.TimeoutSec); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", srv.Name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.Name, err))
			continue
		}
		if len(srv.ToolAllow) > 0 || len(srv.ToolDeny) > 0 {
			m.filterTools(srv.Name, srv.ToolAllow, srv.ToolDeny)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", joinErrors(errs))
	}
	return nil
}

// Stop shuts down all MCP server connections and unregisters tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
		m.registry.UnregisterToolGroup("mcp:" + name)
	}
	m.servers = make(map[string]*serverState)
	m.registry.UnregisterToolGroup("mcp")
}

// ServerStatus returns the status of all connected MCP servers.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     ss.lastErr,
		})
	}
	return statuses
}
