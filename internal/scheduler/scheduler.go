// Package scheduler runs spec §4.6's poll loop: reminders are delivered
// straight to their channel, action tasks get a full backend turn with
// marker processing and retry-on-failure. Grounded on the teacher's
// cmd/gateway_cron.go cron lane (schedule a run, block for its outcome,
// publish outbound on success) generalized from one-shot cron jobs to a
// recurring due-task poll.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/markers"
	"github.com/omegacore/omegad/internal/memory"
)

// Backend is the narrow completion-call surface the scheduler needs for
// action-task execution.
type Backend interface {
	Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error)
}

// Scheduler polls the memory store for due tasks and executes them.
type Scheduler struct {
	store        *memory.Store
	channelMgr   *channels.Manager
	backend      Backend
	pollInterval time.Duration
}

// New builds a Scheduler. pollInterval is spec's poll_interval_secs,
// default 60s.
func New(store *memory.Store, channelMgr *channels.Manager, backend Backend, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Scheduler{store: store, channelMgr: channelMgr, backend: backend, pollInterval: pollInterval}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	tasks, err := s.store.DueTasks(ctx)
	if err != nil {
		slog.Error("scheduler: due task query failed", "error", err)
		return
	}
	for _, t := range tasks {
		switch t.Kind {
		case "action":
			s.executeAction(ctx, t)
		default:
			s.deliverReminder(ctx, t)
		}
	}
}

// deliverReminder sends "Reminder: <description>" to the task's channel,
// completing the task only on confirmed send (at-least-once: a failed
// send leaves it pending for the next cycle).
func (s *Scheduler) deliverReminder(ctx context.Context, t *memory.Task) {
	if _, ok := s.channelMgr.GetChannel(t.Channel); !ok {
		slog.Warn("scheduler: reminder's channel no longer registered, skipping", "task", t.ID, "channel", t.Channel)
		return
	}
	text := "Reminder: " + t.Description
	if err := s.channelMgr.SendToChannel(ctx, t.Channel, t.ChatID, text); err != nil {
		slog.Warn("scheduler: reminder delivery failed, left pending", "task", t.ID, "error", err)
		return
	}
	if err := s.store.CompleteTask(ctx, t.ID); err != nil {
		slog.Error("scheduler: complete_task failed after delivery", "task", t.ID, "error", err)
	}
}

// executeAction builds a synthetic turn from the task description, invokes
// the backend with full tool access, and resolves the task from the
// ACTION_OUTCOME marker in the reply (absent or "success" completes it;
// "failed" retries up to memory.MaxTaskRetries before failing permanently).
func (s *Scheduler) executeAction(ctx context.Context, t *memory.Task) {
	facts, _ := s.store.Facts(ctx, t.SenderID)
	language := ""
	for _, f := range facts {
		if f.Key == "language" {
			language = f.Value
		}
	}

	systemPrompt := fmt.Sprintf(
		"You are carrying out a previously scheduled action on behalf of the user. "+
			"Your text reply is delivered directly to them via channel %q — write it as a message to them, not as internal notes.",
		t.Channel,
	)
	if language != "" {
		systemPrompt += " Reply in " + language + "."
	}

	out, err := s.backend.Complete(ctx, completion.TurnRequest{
		SystemPrompt:   systemPrompt,
		CurrentMessage: t.Description,
		ToolsAllowed:   true,
	})
	_ = s.store.AppendAudit(ctx, t.Channel, t.SenderID, "", "action", "[ACTION] "+t.Description)
	if err != nil {
		s.failOrRetry(ctx, t, err.Error())
		return
	}

	parsed, _ := markers.Extract(out.Text)
	outcome := "success"
	reason := ""
	deps := markers.Deps{Store: s.store, Channel: t.Channel, ChatID: t.ChatID, Project: t.Project}
	for _, m := range parsed {
		if m.Tag == markers.ActionOutcome {
			if v, ok := m.Payload["status"]; ok {
				outcome = v
			}
			reason = m.Payload["reason"]
			continue
		}
		markers.Execute(ctx, deps, m)
	}
	reply := markers.Strip(out.Text)
	if reply != "" {
		_ = s.channelMgr.SendToChannel(ctx, t.Channel, t.ChatID, reply)
	}

	if outcome == "failed" {
		s.failOrRetry(ctx, t, reason)
		return
	}
	if err := s.store.CompleteTask(ctx, t.ID); err != nil {
		slog.Error("scheduler: complete_task failed for action", "task", t.ID, "error", err)
	}
}

func (s *Scheduler) failOrRetry(ctx context.Context, t *memory.Task, reason string) {
	slog.Warn("scheduler: action task failed", "task", t.ID, "reason", reason)
	if err := s.store.FailTask(ctx, t.ID); err != nil {
		slog.Error("scheduler: fail_task bookkeeping failed", "task", t.ID, "error", err)
	}
}
