package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/omegacore/omegad/internal/tools"
)

// BridgeTool adapts one MCP server's tool into the shared tools.Tool
// interface so the completion backends' tool-call loop never has to know
// whether a tool is built-in or MCP-bridged.
type BridgeTool struct {
	serverName string
	origName   string
	prefixed   string
	desc       string
	schema     map[string]interface{}
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

// NewBridgeTool wraps a tool discovered on an MCP server's ListTools call.
// The name exposed to the model is prefix-qualified (when a prefix is
// configured) to avoid collisions between servers that both offer e.g. a
// "search" tool.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := mcpTool.Name
	if toolPrefix != "" {
		name = toolPrefix + "_" + mcpTool.Name
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &BridgeTool{
		serverName: serverName,
		origName:   mcpTool.Name,
		prefixed:   name,
		desc:       mcpTool.Description,
		schema:     schemaToMap(mcpTool.InputSchema),
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string                       { return b.prefixed }
func (b *BridgeTool) Description() string                 { return b.desc }
func (b *BridgeTool) Parameters() map[string]interface{} { return b.schema }

// OriginalName is the tool's name as the MCP server exposed it, before any
// ToolPrefix was applied — allow/deny lists are authored against this name.
func (b *BridgeTool) OriginalName() string { return b.origName }

// Execute forwards the call to the MCP server over its existing client
// connection, converting the server's content blocks into the flat text the
// rest of the pipeline expects.
func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is not connected", b.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.origName
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp tool %q call failed: %v", b.prefixed, err))
	}

	text := renderContent(res)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// renderContent flattens an MCP CallToolResult's content blocks into plain
// text. Non-text blocks (images, embedded resources) are summarized rather
// than dropped silently.
func renderContent(res *mcpgo.CallToolResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for i, c := range res.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		switch block := c.(type) {
		case mcpgo.TextContent:
			b.WriteString(block.Text)
		case mcpgo.ImageContent:
			b.WriteString(fmt.Sprintf("[image: %s]", block.MIMEType))
		case mcpgo.EmbeddedResource:
			b.WriteString("[embedded resource]")
		default:
			b.WriteString(fmt.Sprintf("[unsupported content block: %T]", c))
		}
	}
	return b.String()
}

// schemaToMap converts mcp-go's typed input schema into the plain
// map[string]interface{} the rest of the codebase renders JSON schemas with.
func schemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	m := map[string]interface{}{
		"type": "object",
	}
	if schema.Type != "" {
		m["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}
