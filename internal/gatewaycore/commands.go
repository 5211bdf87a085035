package gatewaycore

import (
	"context"
	"fmt"
	"strings"

	"github.com/omegacore/omegad/internal/bus"
)

// dispatchCommand implements spec §6's 12 built-in slash commands (stage 4
// of the pipeline). Commands are case-sensitive and never reach the
// backend; an unrecognized one falls through as a normal message instead
// of erroring, matching spec's "Fails with UnknownCommand (falls through
// as a normal message)".
func (p *Pipeline) dispatchCommand(ctx context.Context, senderID string, msg bus.InboundMessage, project string) string {
	fields := strings.Fields(strings.TrimSuffix(msg.Content, "@"+p.cfg.Omega.Name))
	if len(fields) == 0 {
		return ""
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/status":
		return p.cmdStatus(ctx, msg.Channel, senderID, project)
	case "/memory":
		return p.cmdMemory(ctx, senderID)
	case "/history":
		return p.cmdHistory(ctx, msg.Channel, senderID, project)
	case "/facts":
		return p.cmdFacts(ctx, senderID)
	case "/forget":
		return p.cmdForget(ctx, senderID, args)
	case "/tasks":
		return p.cmdTasks(ctx, senderID)
	case "/cancel":
		return p.cmdCancel(ctx, senderID, args)
	case "/language":
		return p.cmdLanguage(ctx, msg.Channel, senderID, project, args)
	case "/purge":
		return p.cmdPurge(ctx, senderID)
	case "/projects":
		return p.cmdProjects(ctx, senderID)
	case "/project":
		return p.cmdProject(ctx, msg.Channel, senderID, args)
	case "/help":
		return cmdHelp()
	default:
		return "" // unrecognized commands fall through; stage 4 then handles
		// the message as a normal one.
	}
}

func (p *Pipeline) cmdStatus(ctx context.Context, channel, senderID, project string) string {
	conv, err := p.store.LookupOrCreate(ctx, channel, senderID, project)
	if err != nil {
		return "Couldn't look up your status right now."
	}
	tasks, _ := p.store.TasksForSender(ctx, senderID)
	pending := 0
	for _, t := range tasks {
		if t.Status == "pending" {
			pending++
		}
	}
	return fmt.Sprintf("Conversation %s (%s), project %q, %d pending task(s).", conv.ID, conv.Status, project, pending)
}

func (p *Pipeline) cmdMemory(ctx context.Context, senderID string) string {
	facts, err := p.store.Facts(ctx, senderID)
	if err != nil || len(facts) == 0 {
		return "No stored facts yet."
	}
	var b strings.Builder
	b.WriteString("Here's what I remember about you:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
	}
	return strings.TrimSpace(b.String())
}

func (p *Pipeline) cmdHistory(ctx context.Context, channel, senderID, project string) string {
	conv, err := p.store.LookupOrCreate(ctx, channel, senderID, project)
	if err != nil {
		return "Couldn't load history right now."
	}
	msgs, err := p.store.RecentMessages(ctx, conv.ID, 10)
	if err != nil || len(msgs) == 0 {
		return "No history yet in this conversation."
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}

func (p *Pipeline) cmdFacts(ctx context.Context, senderID string) string {
	return p.cmdMemory(ctx, senderID)
}

func (p *Pipeline) cmdForget(ctx context.Context, senderID string, args []string) string {
	if len(args) == 0 {
		return "Usage: /forget <key>"
	}
	if err := p.store.ForgetFact(ctx, senderID, args[0]); err != nil {
		return "Couldn't forget that."
	}
	return fmt.Sprintf("Forgot %q.", args[0])
}

func (p *Pipeline) cmdTasks(ctx context.Context, senderID string) string {
	tasks, err := p.store.TasksForSender(ctx, senderID)
	if err != nil || len(tasks) == 0 {
		return "No pending tasks."
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s %s %s (%s)\n", t.ID[:8], t.Kind, t.Description, t.RunAt.Format("2006-01-02 15:04"))
	}
	return strings.TrimSpace(b.String())
}

func (p *Pipeline) cmdCancel(ctx context.Context, senderID string, args []string) string {
	if len(args) == 0 {
		return "Usage: /cancel <id-prefix>"
	}
	tasks, err := p.store.TasksForSender(ctx, senderID)
	if err != nil {
		return "Couldn't cancel that task."
	}
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, args[0]) {
			if err := p.store.CancelTask(ctx, t.ID); err != nil {
				return "Couldn't cancel that task."
			}
			return fmt.Sprintf("Cancelled %s.", t.Description)
		}
	}
	return "No matching task found."
}

func (p *Pipeline) cmdLanguage(ctx context.Context, channel, senderID, project string, args []string) string {
	conv, err := p.store.LookupOrCreate(ctx, channel, senderID, project)
	if err != nil {
		return "Couldn't update language right now."
	}
	if len(args) == 0 {
		if conv.Language == "" {
			return "No language preference set."
		}
		return fmt.Sprintf("Current language: %s.", conv.Language)
	}
	lang := strings.Join(args, " ")
	if err := p.store.SetLanguage(ctx, conv.ID, lang); err != nil {
		return "Couldn't update language."
	}
	return fmt.Sprintf("Switched to %s.", lang)
}

func (p *Pipeline) cmdPurge(ctx context.Context, senderID string) string {
	n, err := p.store.PurgeFacts(ctx, senderID)
	if err != nil {
		return "Couldn't purge facts."
	}
	return fmt.Sprintf("Purged %d fact(s). System-managed facts were kept.", n)
}

func (p *Pipeline) cmdProjects(ctx context.Context, senderID string) string {
	facts, err := p.store.Facts(ctx, senderID)
	if err != nil {
		return "Couldn't list projects."
	}
	seen := map[string]bool{}
	var names []string
	for _, f := range facts {
		if f.Key == "project.active" && f.Value != "" && !seen[f.Value] {
			seen[f.Value] = true
			names = append(names, f.Value)
		}
	}
	if len(names) == 0 {
		return "No projects yet."
	}
	return "Projects: " + strings.Join(names, ", ")
}

// cmdProject switches (or clears, with "off") the sender's active project.
// Per the REDESIGN FLAGS resolution of spec's Open Question, this resets
// only the current project's CLI session, not every session the sender has.
func (p *Pipeline) cmdProject(ctx context.Context, channel, senderID string, args []string) string {
	if len(args) == 0 {
		return "Usage: /project <name|off>"
	}
	if args[0] == "off" {
		if err := p.store.UpsertFact(ctx, senderID, "project.active", ""); err != nil {
			return "Couldn't clear project."
		}
		return "Cleared active project."
	}
	name := strings.Join(args, " ")
	if err := p.store.UpsertFact(ctx, senderID, "project.active", name); err != nil {
		return "Couldn't switch project."
	}
	_ = p.store.SetCLISession(ctx, channel, senderID, name, "")
	return fmt.Sprintf("Switched to project %q.", name)
}

func cmdHelp() string {
	return "Commands: /status /memory /history /facts /forget <key> /tasks /cancel <id> /language [name] /purge /projects /project [name|off] /help"
}
