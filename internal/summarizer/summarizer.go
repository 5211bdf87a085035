// Package summarizer runs spec §4's idle-conversation sweep: close
// conversations that have gone quiet past memory.IdleThreshold, asking the
// backend for a short summary plus any durable facts worth keeping before
// the conversation's history falls out of context. Grounded on the
// teacher's cron lane shape (one backend call per unit of work, outcome
// logged, no retry loop of its own) adapted to a sweep instead of a single
// scheduled job.
package summarizer

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/memory"
)

// Backend is the narrow completion-call surface the summarizer needs.
type Backend interface {
	Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error)
}

// factsPrefix marks the line a summarization reply starts its durable-fact
// section with, each subsequent "key: value" line becoming an UpsertFact
// call — the summarizer's own lightweight alternative to the marker
// catalog, which has no generic "remember this fact" directive.
const factsPrefix = "FACTS:"

// Summarizer sweeps for idle conversations.
type Summarizer struct {
	store        *memory.Store
	backend      Backend
	pollInterval time.Duration
}

// New builds a Summarizer. pollInterval bounds how promptly an idle
// conversation gets closed after crossing memory.IdleThreshold.
func New(store *memory.Store, backend Backend, pollInterval time.Duration) *Summarizer {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &Summarizer{store: store, backend: backend, pollInterval: pollInterval}
}

// Run sweeps until ctx is cancelled.
func (s *Summarizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Summarizer) sweep(ctx context.Context) {
	convs, err := s.store.ActiveIdleConversations(ctx)
	if err != nil {
		slog.Error("summarizer: idle conversation query failed", "error", err)
		return
	}
	for _, conv := range convs {
		s.closeOne(ctx, conv)
	}
}

func (s *Summarizer) closeOne(ctx context.Context, conv *memory.Conversation) {
	messages, err := s.store.RecentMessages(ctx, conv.ID, 50)
	if err != nil {
		slog.Error("summarizer: history read failed, closing without summary", "conversation", conv.ID, "error", err)
		_ = s.store.CloseConversation(ctx, conv.ID)
		return
	}
	if len(messages) == 0 {
		_ = s.store.CloseConversation(ctx, conv.ID)
		return
	}

	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(m.Role + ": " + m.Content + "\n")
	}

	out, err := s.backend.Complete(ctx, completion.TurnRequest{
		SystemPrompt: "Summarize this finished conversation in 2-3 sentences for future recall. " +
			"If the user shared any durable fact about themselves worth remembering (name, preference, " +
			"recurring project), list it after a line that says exactly \"" + factsPrefix + "\" as " +
			"\"key: value\" pairs, one per line. Omit the FACTS section if there is nothing durable.",
		CurrentMessage: transcript.String(),
		ToolsAllowed:   false,
	})
	if err != nil {
		slog.Warn("summarizer: summarization call failed, closing without summary", "conversation", conv.ID, "error", err)
		_ = s.store.CloseConversation(ctx, conv.ID)
		return
	}

	summary, facts := splitSummaryAndFacts(out.Text)
	for key, value := range facts {
		if err := s.store.UpsertFact(ctx, conv.SenderID, key, value); err != nil {
			slog.Warn("summarizer: fact upsert failed", "conversation", conv.ID, "key", key, "error", err)
		}
	}
	if err := s.store.CloseWithSummary(ctx, conv.ID, summary); err != nil {
		slog.Error("summarizer: close failed", "conversation", conv.ID, "error", err)
	}
}

// splitSummaryAndFacts separates the prose summary from the optional
// trailing FACTS: block, parsing each "key: value" line underneath it.
func splitSummaryAndFacts(text string) (string, map[string]string) {
	facts := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	var summaryLines []string
	inFacts := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, factsPrefix) {
			inFacts = true
			continue
		}
		if !inFacts {
			summaryLines = append(summaryLines, line)
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			facts[key] = value
		}
	}
	return strings.TrimSpace(strings.Join(summaryLines, "\n")), facts
}
