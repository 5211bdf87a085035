package markers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/omegacore/omegad/internal/memory"
)

// Result is one marker's outcome, used by the confirmation composer to
// decide what (if anything) to tell the user, and by the gateway/
// scheduler/heartbeat loops to react to protocol-level effects
// (HEARTBEAT_OK suppression, ACTION_OUTCOME bookkeeping, WHATSAPP_QR no
// longer needing a dedicated marker since QR pairing is channel-internal).
type Result struct {
	Tag      Tag
	OK       bool
	Message  string // short confirmation/warning text for the composer
	Silent   bool   // true when this marker must never produce user-visible text
	Err      error
	Task     *memory.Task // set by SCHEDULE/SCHEDULE_ACTION for composer similarity checks
	Deduped  bool         // true when CreateTask found an existing similar task
}

// Deps bundles everything Execute needs to apply a marker's side effects.
type Deps struct {
	Store    *memory.Store
	Conv     *memory.Conversation
	Channel  string
	ChatID   string
	Project  string
}

// Execute applies one marker's side effect against the memory store and
// returns a Result the confirmation composer can render. Execute never
// returns an error that should abort the pipeline — failures are reported
// in Result.Err with OK=false, and Compose renders nothing for them.
func Execute(ctx context.Context, d Deps, m Marker) Result {
	switch m.Tag {
	case Schedule:
		return execSchedule(ctx, d, m, "reminder")
	case ScheduleAction:
		return execSchedule(ctx, d, m, "action")
	case CancelTask:
		return execCancel(ctx, d, m)
	case UpdateTask:
		return execUpdate(ctx, d, m)
	case Reward:
		return Result{Tag: m.Tag, OK: true, Silent: true}
	case Lesson:
		return execLesson(ctx, d, m)
	case Personality:
		if v, ok := m.Payload["style"]; ok {
			err := d.Store.UpsertFact(ctx, d.Conv.SenderID, "personality.style", v)
			return Result{Tag: m.Tag, OK: err == nil, Err: err, Silent: true}
		}
		return Result{Tag: m.Tag, OK: false, Silent: true}
	case LangSwitch:
		lang := m.Payload["lang"]
		if lang == "" {
			return Result{Tag: m.Tag, OK: false, Silent: true}
		}
		err := d.Store.SetLanguage(ctx, d.Conv.ID, lang)
		if err == nil {
			_ = d.Store.UpsertFact(ctx, d.Conv.SenderID, "profile.language", lang)
		}
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Silent: true}
	case ForgetConversation:
		err := d.Store.CloseConversation(ctx, d.Conv.ID)
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: "This conversation has been closed; the next message starts fresh."}
	case PurgeFacts:
		n, err := d.Store.PurgeFacts(ctx, d.Conv.SenderID)
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: fmt.Sprintf("Cleared %d stored facts.", n)}
	case HeartbeatAdd, HeartbeatRemove, HeartbeatInterval, HeartbeatSuppressSection, HeartbeatUnsuppressSection:
		// These are recognized and kept silent only: nothing in the gateway
		// edits HEARTBEAT.md or HEARTBEAT.suppress in response to them.
		return Result{Tag: m.Tag, OK: true, Silent: true}
	case SkillImprove:
		return Result{Tag: m.Tag, OK: true, Silent: true}
	case BugReport:
		title := m.Payload["title"]
		detail := m.Payload["detail"]
		if title == "" {
			return Result{Tag: m.Tag, OK: false, Silent: true}
		}
		err := d.Store.RecordLimitation(ctx, title, detail)
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Silent: true}
	case ProjectActivate:
		proj := m.Payload["project"]
		err := d.Store.UpsertFact(ctx, d.Conv.SenderID, "project.active", proj)
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: fmt.Sprintf("Switched to project %q.", proj)}
	case ProjectDeactivate:
		err := d.Store.UpsertFact(ctx, d.Conv.SenderID, "project.active", "")
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: "Left the current project."}
	case ActionOutcome:
		taskID := m.Payload["task_id"]
		content := m.Payload["content"]
		if taskID == "" {
			return Result{Tag: m.Tag, OK: false, Silent: true}
		}
		err := d.Store.AppendOutcome(ctx, taskID, content)
		return Result{Tag: m.Tag, OK: err == nil, Err: err, Silent: true}
	case HeartbeatOK:
		// Effect lives entirely in internal/heartbeat's suppression check;
		// Execute just recognizes and silences it here.
		return Result{Tag: m.Tag, OK: true, Silent: true}
	default:
		return Result{Tag: m.Tag, OK: false, Silent: true}
	}
}

func execSchedule(ctx context.Context, d Deps, m Marker, kind string) Result {
	desc := m.Payload["desc"]
	if desc == "" {
		return Result{Tag: m.Tag, OK: false, Silent: true}
	}
	runAt := parseWhen(m.Payload["at"])
	task, created, err := d.Store.CreateTask(ctx, memory.Task{
		SenderID: d.Conv.SenderID, Channel: d.Channel, ChatID: d.ChatID, Project: d.Project,
		Kind: kind, Description: desc, RunAt: runAt, Recurrence: m.Payload["repeat"],
	})
	return Result{Tag: m.Tag, OK: err == nil, Err: err, Task: task, Deduped: !created}
}

func execCancel(ctx context.Context, d Deps, m Marker) Result {
	id := m.Payload["task_id"]
	if id == "" {
		return Result{Tag: m.Tag, OK: false, Silent: true}
	}
	err := d.Store.CancelTask(ctx, id)
	return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: "Cancelled."}
}

func execUpdate(ctx context.Context, d Deps, m Marker) Result {
	id := m.Payload["task_id"]
	desc := m.Payload["desc"]
	if id == "" || desc == "" {
		return Result{Tag: m.Tag, OK: false, Silent: true}
	}
	err := d.Store.UpdateTaskDescription(ctx, id, desc)
	return Result{Tag: m.Tag, OK: err == nil, Err: err, Message: "Updated."}
}

func execLesson(ctx context.Context, d Deps, m Marker) Result {
	rule := m.Payload["rule"]
	if rule == "" {
		return Result{Tag: m.Tag, OK: false, Silent: true}
	}
	err := d.Store.RecordLesson(ctx, d.Conv.SenderID, m.Payload["domain"], d.Project, rule)
	return Result{Tag: m.Tag, OK: err == nil, Err: err, Silent: true}
}

// parseWhen interprets a SCHEDULE marker's "at" field: an RFC3339
// timestamp, or a bare number of minutes from now (the shorthand a fast
// classify-model reply is more likely to emit than a full timestamp).
func parseWhen(at string) time.Time {
	if at == "" {
		return time.Now().Add(time.Hour)
	}
	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t
	}
	if mins, err := strconv.Atoi(at); err == nil {
		return time.Now().Add(time.Duration(mins) * time.Minute)
	}
	return time.Now().Add(time.Hour)
}
