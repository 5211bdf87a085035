package memory

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ContextNeeds flags which parts of a ContextBundle are worth fetching for
// a given turn, set by internal/classify's keyword scan (spec §4.2 stage
// 6): {recall, pending_tasks, profile, summaries, outcomes}. Facts and
// lessons are always loaded regardless of these flags (spec §4.2 stage 7:
// "all facts... and always: learned lessons").
type ContextNeeds struct {
	Recall        bool
	PendingTasks  bool
	Profile       bool
	Summaries     bool
	RecentOutcome bool
}

// ContextBundle is the result of one context-assembly call: everything the
// prompt-assembly stage folds into the system prompt for a turn.
type ContextBundle struct {
	History   []*Message
	Facts     []*Fact
	Lessons   []*Lesson
	Recall    []string
	Summaries []string
	Pending   []*Task
	Outcomes  []string
}

// AssembleContext performs every DB read a turn's context needs as one
// concurrent operation (spec §4.3: "performs all its DB reads
// concurrently"). Per spec §4.2's failure semantics, enrichment reads
// degrade to empty on error instead of aborting the turn — only the
// caller's own conversation lookup is allowed to be fatal.
func (s *Store) AssembleContext(ctx context.Context, conv *Conversation, query string, needs ContextNeeds, historyLimit int) (*ContextBundle, error) {
	bundle := &ContextBundle{}
	g, _ := errgroup.WithContext(ctx)

	// run never propagates fn's error through the group — each enrichment
	// degrades to an empty field instead of failing the whole context
	// build (spec §4.2's failure semantics for facts/summaries/recall).
	run := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				slog.Warn("memory: context enrichment read failed, degrading to empty", "part", name, "error", err)
			}
			return nil
		})
	}

	run("history", func() error {
		history, err := s.RecentMessages(ctx, conv.ID, historyLimit)
		if err != nil {
			return err
		}
		bundle.History = history
		return nil
	})

	run("facts", func() error {
		facts, err := s.Facts(ctx, conv.SenderID)
		if err != nil {
			return err
		}
		bundle.Facts = facts
		return nil
	})

	run("lessons", func() error {
		lessons, err := s.Lessons(ctx, conv.SenderID, "", conv.Project)
		if err != nil {
			return err
		}
		bundle.Lessons = lessons
		return nil
	})

	if needs.Recall && query != "" {
		run("recall", func() error {
			recall, err := s.Recall(ctx, conv.SenderID, query)
			if err != nil {
				return err
			}
			bundle.Recall = recall
			return nil
		})
	}

	if needs.Summaries {
		run("summaries", func() error {
			summaries, err := s.RecentSummaries(ctx, conv.Channel, conv.SenderID, conv.Project, 5)
			if err != nil {
				return err
			}
			bundle.Summaries = summaries
			return nil
		})
	}

	if needs.PendingTasks {
		run("pending_tasks", func() error {
			tasks, err := s.TasksForSender(ctx, conv.SenderID)
			if err != nil {
				return err
			}
			bundle.Pending = tasks
			return nil
		})
	}

	if needs.RecentOutcome {
		run("outcomes", func() error {
			outcomes, err := s.RecentOutcomesAll(ctx, 10)
			if err != nil {
				return err
			}
			bundle.Outcomes = outcomes
			return nil
		})
	}

	_ = g.Wait() // never non-nil: every run() closure swallows its own error
	return bundle, nil
}
