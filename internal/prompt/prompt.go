// Package prompt assembles the system prompt a completion backend sees for
// one turn: a fixed identity preamble plus template sections gated by which
// ContextNeeds the classify stage flagged, matching spec §4.2's "prompt
// assembly" stage. Grounded on the teacher's system-prompt construction in
// cmd/gateway_consumer.go (a string builder walking ordered optional
// sections) generalized from the teacher's fixed section list to one keyed
// off the memory.ContextBundle this spec's context-assembly stage returns.
package prompt

import (
	"fmt"
	"strings"

	"github.com/omegacore/omegad/internal/memory"
)

// Options carries the per-turn inputs prompt assembly needs beyond the
// ContextBundle itself.
type Options struct {
	AgentName string
	Project   string
	Language  string
	Onboarded bool
}

// Assemble builds the system prompt for one turn. Sections are included
// only when the corresponding data is non-empty, so a turn that needed no
// recall/profile/lessons gets a short prompt instead of empty headers.
func Assemble(bundle *memory.ContextBundle, opts Options) string {
	var b strings.Builder

	name := opts.AgentName
	if name == "" {
		name = "the assistant"
	}
	fmt.Fprintf(&b, "You are %s, a persistent assistant reachable across chat channels.\n", name)

	if opts.Project != "" {
		fmt.Fprintf(&b, "Current project: %s.\n", opts.Project)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Reply in %s unless the user switches language.\n", opts.Language)
	}
	if !opts.Onboarded {
		b.WriteString("This sender has no stored profile yet; introduce yourself briefly and learn their name/preferences over time.\n")
	}

	if bundle == nil {
		return strings.TrimSpace(b.String())
	}

	if len(bundle.Facts) > 0 {
		b.WriteString("\n## Known facts about this sender\n")
		for _, f := range bundle.Facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
	}

	if len(bundle.Lessons) > 0 {
		b.WriteString("\n## Lessons learned\n")
		for _, l := range bundle.Lessons {
			fmt.Fprintf(&b, "- %s (reinforced %d×)\n", l.Rule, l.Occurrences)
		}
	}

	if len(bundle.Summaries) > 0 {
		b.WriteString("\n## Earlier conversation summaries\n")
		for _, sum := range bundle.Summaries {
			fmt.Fprintf(&b, "- %s\n", sum)
		}
	}

	if len(bundle.Recall) > 0 {
		b.WriteString("\n## Relevant earlier messages\n")
		for _, r := range bundle.Recall {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if len(bundle.Pending) > 0 {
		b.WriteString("\n## Pending tasks\n")
		for _, t := range bundle.Pending {
			fmt.Fprintf(&b, "- [%s] %s (due %s)\n", t.Kind, t.Description, t.RunAt.Format("2006-01-02 15:04"))
		}
	}

	if len(bundle.Outcomes) > 0 {
		b.WriteString("\n## Recent outcomes\n")
		for _, o := range bundle.Outcomes {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	return strings.TrimSpace(b.String())
}

// History converts a memory.ContextBundle's stored messages into
// role/content pairs (prompt's own historyEntry); the caller copies them
// into the completion.Message history a TurnRequest carries.
func History(bundle *memory.ContextBundle) []historyEntry {
	if bundle == nil {
		return nil
	}
	out := make([]historyEntry, 0, len(bundle.History))
	for _, m := range bundle.History {
		out = append(out, historyEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// historyEntry is prompt's backend-agnostic history shape; gatewaycore
// converts it to completion.Message at the call boundary so this package
// never has to import internal/completion.
type historyEntry struct {
	Role    string
	Content string
}
