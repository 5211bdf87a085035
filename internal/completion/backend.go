package completion

import "context"

// OutgoingMessage is the result of a completion call, independent of which
// backend produced it.
type OutgoingMessage struct {
	Text     string
	Metadata ResponseMetadata
}

// ResponseMetadata carries provider/usage bookkeeping the orchestrator logs
// and persists alongside a conversation turn.
type ResponseMetadata struct {
	Provider      string
	Model         string
	Tokens        *Usage
	ProcessingMs  int64
	SessionID     string
}

// Backend is the completion-backend adapter interface every backend family
// (subprocess CLI, HTTP provider) implements. It sits one level above
// Provider: Provider speaks one wire format, Backend owns the full turn
// (tool loop, turn-exhaustion resume, session bookkeeping).
type Backend interface {
	Complete(ctx context.Context, turn TurnRequest) (*OutgoingMessage, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

// TurnRequest is everything a Backend needs to run one gateway turn. It
// mirrors the context assembly operation's output (spec ยง4.3/4.5): a system
// prompt, conversation history, the current message, any MCP servers the
// matched skill declared, a model override, and session continuation info.
type TurnRequest struct {
	SystemPrompt      string
	History           []Message
	CurrentMessage    string
	Images            []ImageContent
	Model             string
	SessionID         string // resume handle; empty starts a fresh session
	ContinuationTurn  bool   // true when SessionID carries state the backend already knows
	ToolsAllowed      bool   // false for classification calls
	MaxTurns          int
	MCPServers        []MCPServerConfig
}

// MCPServerConfig is the backend-agnostic shape of an MCP server declaration
// a matched skill produced. The subprocess backend renders these into a
// transient settings file; HTTP backends hand them to an mcp.Manager.
type MCPServerConfig struct {
	Name       string
	Transport  string
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
