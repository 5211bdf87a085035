package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/omegacore/omegad/internal/completion"
)

// Tool is the contract every built-in and MCP-bridged tool implements. The
// shape (Name/Description/Parameters/Execute) is the one already used by
// ExecTool, ReadFileTool, WriteFileTool and EditFileTool.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools available to a completion backend for one
// conversation turn and adapts them to wire schemas.
type Registry struct {
	tools  map[string]Tool
	order  []string
	groups map[string][]string // e.g. "mcp:github" -> tool names, for policy filtering
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), groups: make(map[string][]string)}
}

// Register adds a tool, overwriting any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes a tool, typically an MCP-bridged one whose server
// disconnected or whose turn ended.
func (r *Registry) Unregister(name string) {
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RegisterToolGroup names a set of tools together (e.g. "mcp:github" or the
// aggregate "mcp" group) so allow/deny policy can reference the group
// instead of enumerating every MCP-bridged tool name.
func (r *Registry) RegisterToolGroup(group string, names []string) {
	r.groups[group] = names
}

// UnregisterToolGroup removes a previously registered group name.
func (r *Registry) UnregisterToolGroup(group string) {
	delete(r.groups, group)
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the registry as completion.ToolDefinition for a
// backend's wire-level tool schema.
func (r *Registry) Definitions() []completion.ToolDefinition {
	defs := make([]completion.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, completion.ToolDefinition{
			Type: "function",
			Function: completion.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches a tool call by name, returning a deny result for
// unknown tools instead of an error so the backend can keep its turn loop
// going (the model simply sees its call failed).
func (r *Registry) Execute(ctx context.Context, call completion.ToolCall) *Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	return t.Execute(ctx, call.Arguments)
}

// Describe renders a human-readable summary of the registered tools.
func (r *Registry) Describe() string {
	var b strings.Builder
	names := r.Names()
	sort.Strings(names)
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
	}
	return b.String()
}
