// Package classify implements the keyword-based context-needs scan of
// spec §4.2 stage 6 and the classify-then-route decision used by the main
// pipeline (stage 9). It is
// grounded on the teacher's habit of a cheap local pre-filter ahead of an
// expensive model call (internal/channels' allowlist check before any
// backend is invoked), generalized here to a keyword table instead of an
// allowlist.
package classify

import (
	"strings"

	"github.com/omegacore/omegad/internal/memory"
)

// keywordGroups maps each ContextNeeds flag to the substrings whose
// presence in the inbound message (case-insensitive) turns it on. Keeping
// this as a flat table — instead of an NLP classifier — matches spec's
// "keyword classification" framing exactly: cheap, deterministic, no
// model call for this stage.
var keywordGroups = map[string][]string{
	"recall":    {"remember", "recall", "earlier", "before", "previously", "you said"},
	"pending":   {"task", "reminder", "todo", "to-do", "scheduled", "pending"},
	"profile":   {"my name", "about me", "who am i", "preference", "favorite"},
	"summaries": {"last time", "last conversation", "recap", "catch me up", "summary"},
	"outcomes":  {"result", "outcome", "how did", "what happened"},
}

// Needs scans content for the keyword groups above and returns the
// ContextNeeds a context-assembly call should fetch for this turn.
func Needs(content string) memory.ContextNeeds {
	lower := strings.ToLower(content)
	hit := func(group string) bool {
		for _, kw := range keywordGroups[group] {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
	return memory.ContextNeeds{
		Recall:        hit("recall"),
		PendingTasks:  hit("pending"),
		Profile:       hit("profile"),
		Summaries:     hit("summaries"),
		RecentOutcome: hit("outcomes"),
	}
}

// Route is the classify-then-route decision for stage 9: DIRECT means the
// turn needs no step-by-step plan and is answered in one backend call; a
// non-empty Steps list is added to the system prompt as steps for the
// backend to work through in order, still within one backend call.
type Route struct {
	Direct bool
	Steps  []string
}

// planKeywords flag a message as needing a multi-step plan rather than a
// single direct reply: conjunctions joining multiple asks, or an explicit
// ask for a list/plan.
var planKeywords = []string{" and then ", " after that ", "step by step", "first,", "plan for", "checklist"}

// RouteMessage decides whether content should be answered directly or
// split into steps. When a plan keyword is present the message is split on
// commas, and it is routed as steps only if that yields more than one
// non-empty part — this is the fast local pre-filter; the
// backend itself still does the real reasoning for either branch.
func RouteMessage(content string) Route {
	lower := strings.ToLower(content)
	for _, kw := range planKeywords {
		if strings.Contains(lower, kw) {
			parts := strings.Split(content, ",")
			steps := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					steps = append(steps, p)
				}
			}
			if len(steps) > 1 {
				return Route{Direct: false, Steps: steps}
			}
		}
	}
	return Route{Direct: true}
}
