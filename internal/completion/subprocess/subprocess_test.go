package subprocess

import (
	"strings"
	"testing"

	"github.com/omegacore/omegad/internal/completion"
)

func TestFlattenPrompt(t *testing.T) {
	turn := completion.TurnRequest{
		SystemPrompt: "you are omega",
		History: []completion.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		CurrentMessage: "what time is it",
	}

	got := flattenPrompt(turn)

	if !strings.HasPrefix(got, "you are omega\n\n") {
		t.Fatalf("expected system prompt prefix, got: %q", got)
	}
	if !strings.Contains(got, "[USER] hi") {
		t.Fatalf("expected history entry for user, got: %q", got)
	}
	if !strings.Contains(got, "[ASSISTANT] hello") {
		t.Fatalf("expected history entry for assistant, got: %q", got)
	}
	if !strings.HasSuffix(got, "what time is it") {
		t.Fatalf("expected current message as suffix, got: %q", got)
	}
}

func TestFlattenPrompt_NoSystemPrompt(t *testing.T) {
	turn := completion.TurnRequest{CurrentMessage: "hello"}
	got := flattenPrompt(turn)
	if got != "hello" {
		t.Fatalf("expected bare current message, got: %q", got)
	}
}

func TestWithoutEnv(t *testing.T) {
	env := []string{"PATH=/bin", "OMEGAD_AGENT_SESSION=abc123", "HOME=/root"}
	got := withoutEnv(env, nestedSessionEnvVar)

	for _, e := range got {
		if strings.HasPrefix(e, "OMEGAD_AGENT_SESSION=") {
			t.Fatalf("expected nested session env var to be stripped, got: %v", got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 remaining vars, got %d: %v", len(got), got)
	}
}

func TestCliResult_TurnLimitReached(t *testing.T) {
	cases := []struct {
		name string
		res  cliResult
		want bool
	}{
		{"success", cliResult{Subtype: "success", SessionID: "s1"}, false},
		{"max_turns_no_session", cliResult{Subtype: "error_max_turns"}, false},
		{"max_turns_with_session", cliResult{Subtype: "error_max_turns", SessionID: "s1"}, true},
		{"other_error", cliResult{Subtype: "error_during_execution", SessionID: "s1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.res.turnLimitReached(); got != tc.want {
				t.Fatalf("turnLimitReached() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAllowedToolArgs(t *testing.T) {
	servers := []completion.MCPServerConfig{
		{Name: "github"},
		{Name: "linear"},
	}
	got := allowedToolArgs(servers)
	want := []string{
		"--allowed-tools", "mcp__github__*",
		"--allowed-tools", "mcp__linear__*",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d args, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllowedToolArgs_Empty(t *testing.T) {
	if got := allowedToolArgs(nil); got != nil {
		t.Fatalf("expected nil for no servers, got %v", got)
	}
}

func TestBackend_IsAvailable_EmptyPath(t *testing.T) {
	b := New("", "", "", 0, 0, 0, t.TempDir(), nil)
	if b.IsAvailable(nil) {
		t.Fatal("expected IsAvailable to be false with empty cli path")
	}
}

func TestBackend_IsAvailable_NonexistentPath(t *testing.T) {
	b := New("/nonexistent/path/to/cli", "", "", 0, 0, 0, t.TempDir(), nil)
	if b.IsAvailable(nil) {
		t.Fatal("expected IsAvailable to be false for a nonexistent cli path")
	}
}

func TestBackend_ModelSlugs(t *testing.T) {
	b := New("/bin/true", "fast-model", "complex-model", 0, 0, 0, t.TempDir(), nil)
	if b.ModelFast() != "fast-model" {
		t.Fatalf("ModelFast() = %q, want %q", b.ModelFast(), "fast-model")
	}
	if b.ModelComplex() != "complex-model" {
		t.Fatalf("ModelComplex() = %q, want %q", b.ModelComplex(), "complex-model")
	}
}

func TestBackend_Defaults(t *testing.T) {
	b := New("/bin/true", "", "", 0, 0, 0, t.TempDir(), nil)
	if b.maxTurns != defaultMaxTurns {
		t.Fatalf("maxTurns = %d, want %d", b.maxTurns, defaultMaxTurns)
	}
	if b.timeout != defaultTimeout {
		t.Fatalf("timeout = %v, want %v", b.timeout, defaultTimeout)
	}
	if b.resumeRetries != defaultResumeRetries {
		t.Fatalf("resumeRetries = %d, want %d", b.resumeRetries, defaultResumeRetries)
	}
}
