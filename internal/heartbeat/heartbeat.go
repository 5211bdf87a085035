// Package heartbeat runs spec §4.7's clock-aligned proactive loop: read a
// checklist, strip what active projects already own, classify into one or
// more backend calls, suppress empty "all clear" replies, and deliver what
// remains. Grounded on the teacher's cron lane (cmd/gateway_cron.go) for
// the "schedule a run, collect its outcome, publish outbound" shape,
// generalized from a single cron job to a multi-group classify-then-route
// cycle.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/markers"
	"github.com/omegacore/omegad/internal/memory"
)

// Backend is the narrow completion-call surface the heartbeat loop needs.
type Backend interface {
	Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error)
}

// directGroupMax is spec §4.7 step 5's "≤ 3 items or all closely related"
// threshold for a single DIRECT call instead of per-section groups.
const directGroupMax = 3

// Heartbeat runs the proactive checklist cycle.
type Heartbeat struct {
	store       *memory.Store
	channelMgr  *channels.Manager
	backend     Backend
	cfg         config.HeartbeatConfig
	promptsDir  string
	projectsDir string
}

// New builds a Heartbeat. promptsDir holds the global HEARTBEAT.md/
// HEARTBEAT.suppress files; projectsDir holds per-project ROLE.md/
// HEARTBEAT.md/.disabled.
func New(store *memory.Store, channelMgr *channels.Manager, backend Backend, cfg config.HeartbeatConfig, promptsDir, projectsDir string) *Heartbeat {
	return &Heartbeat{store: store, channelMgr: channelMgr, backend: backend, cfg: cfg, promptsDir: promptsDir, projectsDir: projectsDir}
}

// Run loops until ctx is cancelled, sleeping to the next clock-aligned
// boundary (or straight to active_start when outside active hours) before
// each cycle.
func (h *Heartbeat) Run(ctx context.Context) {
	for {
		now := time.Now()
		if !withinActiveHours(now, h.cfg.ActiveStart, h.cfg.ActiveEnd) {
			target := nextActiveStart(now, h.cfg.ActiveStart)
			if !h.sleepUntil(ctx, target) {
				return
			}
			continue
		}

		target := nextBoundary(now, h.cfg.IntervalMinutes)
		if !h.sleepUntil(ctx, target) {
			return
		}

		if overshot(target, time.Now()) {
			slog.Warn("heartbeat: woke past tolerance, re-aligning silently", "target", target)
			continue
		}

		h.runCycle(ctx)
	}
}

func (h *Heartbeat) sleepUntil(ctx context.Context, target time.Time) bool {
	timer := time.NewTimer(time.Until(target))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (h *Heartbeat) runCycle(ctx context.Context) {
	raw, err := os.ReadFile(filepath.Join(h.promptsDir, "HEARTBEAT.md"))
	if err != nil || strings.TrimSpace(string(raw)) == "" {
		return // step 1: absent/empty checklist skips the cycle entirely
	}
	sections := ParseChecklist(string(raw))
	sections = h.applySuppressions(sections)

	projects := h.activeProjectsWithOwnChecklist()
	global := StripProjectSections(sections, projects)
	if TotalItems(global) > 0 {
		h.phase(ctx, global, "")
	}

	for name := range projects {
		h.projectPhase(ctx, name)
	}
}

// applySuppressions drops sections named in HEARTBEAT.suppress (one name
// per line), suppressing resolved items silently per spec step 7. The file
// is only read here when present; the HEARTBEAT_SUPPRESS_SECTION and
// HEARTBEAT_UNSUPPRESS_SECTION markers do not write it.
func (h *Heartbeat) applySuppressions(sections []Section) []Section {
	raw, err := os.ReadFile(filepath.Join(h.promptsDir, "HEARTBEAT.suppress"))
	if err != nil {
		return sections
	}
	suppressed := map[string]bool{}
	for _, line := range strings.Split(string(raw), "\n") {
		if n := NormalizeSectionName(line); n != "" {
			suppressed[n] = true
		}
	}
	var out []Section
	for _, s := range sections {
		if suppressed[NormalizeSectionName(s.Name)] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// activeProjectsWithOwnChecklist scans projectsDir for directories without
// a .disabled marker that have their own HEARTBEAT.md, keyed by
// normalized project name.
func (h *Heartbeat) activeProjectsWithOwnChecklist() map[string]bool {
	out := map[string]bool{}
	entries, err := os.ReadDir(h.projectsDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(h.projectsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, ".disabled")); err == nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "HEARTBEAT.md")); err != nil {
			continue
		}
		out[NormalizeSectionName(e.Name())] = true
	}
	return out
}

// enrichment is spec step 3's pre-checklist context: facts across every
// user, all lessons, and recent outcomes, scoped to project when non-empty.
func (h *Heartbeat) enrichment(ctx context.Context, project string) string {
	var b strings.Builder

	facts, _ := h.store.AllFacts(ctx)
	if len(facts) > 0 {
		b.WriteString("## Known facts\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s/%s: %s\n", f.SenderID, f.Key, f.Value)
		}
	}

	lessons, _ := h.store.AllLessons(ctx, project)
	if len(lessons) > 0 {
		b.WriteString("## Lessons learned\n")
		for _, l := range lessons {
			fmt.Fprintf(&b, "- %s (reinforced %d×)\n", l.Rule, l.Occurrences)
		}
	}

	outcomes, _ := h.store.RecentOutcomesAll(ctx, 20)
	if len(outcomes) > 0 {
		b.WriteString("## Recent outcomes\n")
		for _, o := range outcomes {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}

	return strings.TrimSpace(b.String())
}

// phase runs one classify-then-route heartbeat pass over sections,
// tagging any marker side effects with project (empty for the global
// phase).
func (h *Heartbeat) phase(ctx context.Context, sections []Section, project string) {
	groups := classifyGroups(sections)
	enrich := h.enrichment(ctx, project)

	var mu sync.Mutex
	var deliverable []string
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group []Section) {
			defer wg.Done()
			display, ok := h.runGroup(ctx, group, enrich, project)
			if !ok {
				return
			}
			mu.Lock()
			deliverable = append(deliverable, display)
			mu.Unlock()
		}(group)
	}
	wg.Wait()

	if len(deliverable) == 0 {
		return
	}
	text := strings.Join(deliverable, "\n\n---\n\n")
	if err := h.channelMgr.SendToChannel(ctx, h.cfg.Channel, h.cfg.ReplyTarget, text); err != nil {
		slog.Error("heartbeat: delivery failed", "error", err)
	}
}

// projectPhase repeats phase for one active project's own checklist.
func (h *Heartbeat) projectPhase(ctx context.Context, normalizedName string) {
	entries, err := os.ReadDir(h.projectsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || NormalizeSectionName(e.Name()) != normalizedName {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(h.projectsDir, e.Name(), "HEARTBEAT.md"))
		if err != nil {
			return
		}
		sections := ParseChecklist(string(raw))
		if TotalItems(sections) == 0 {
			return
		}
		h.phase(ctx, sections, e.Name())
		return
	}
}

// classifyGroups implements step 5: ≤3 total items (or a single section)
// goes through one DIRECT call; otherwise each section becomes its own
// parallel group.
func classifyGroups(sections []Section) [][]Section {
	if len(sections) <= 1 || TotalItems(sections) <= directGroupMax {
		return [][]Section{sections}
	}
	groups := make([][]Section, 0, len(sections))
	for _, s := range sections {
		groups = append(groups, []Section{s})
	}
	return groups
}

func (h *Heartbeat) runGroup(ctx context.Context, group []Section, enrich, project string) (string, bool) {
	var b strings.Builder
	b.WriteString("You are running your own proactive checklist. For each item, decide if action is needed and take it. ")
	b.WriteString("If everything is fine and there is nothing worth reporting, reply with exactly [[HEARTBEAT_OK]] and nothing else.\n\n")
	if enrich != "" {
		b.WriteString(enrich + "\n\n")
	}
	b.WriteString(Render(group))

	out, err := h.backend.Complete(ctx, completion.TurnRequest{
		SystemPrompt:   b.String(),
		CurrentMessage: "Run the heartbeat checklist above.",
		ToolsAllowed:   true,
	})
	if err != nil {
		slog.Error("heartbeat: group call failed", "project", project, "error", err)
		return "", false
	}

	parsed, _ := markers.Extract(out.Text)
	deps := markers.Deps{Store: h.store, Project: project}
	for _, m := range parsed {
		markers.Execute(ctx, deps, m)
	}

	return EvaluateGroup(out.Text)
}

// EvaluateGroup implements step 7: strip HEARTBEAT_OK and every other
// marker; if nothing meaningful remains, the group is suppressed (silent
// log, no delivery). Exported standalone so it can be unit tested without
// a backend.
func EvaluateGroup(text string) (string, bool) {
	stripped := strings.TrimSpace(markers.Strip(text))
	if stripped == "" {
		return "", false
	}
	return stripped, true
}
