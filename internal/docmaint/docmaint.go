// Package docmaint implements the gateway's fourth background loop: a
// light fsnotify watcher that watches the global and per-project
// HEARTBEAT.md checklists, logs global sections that duplicate a project's
// own checklist (it does not rewrite any file), and sweeps stale
// workspace/inbox attachments —
// the pipeline RAII-deletes these on the normal exit path, so anything
// left behind is a partial-failure leftover (crash or early return before
// the deferred cleanup ran). Grounded on
// theRebelliousNerd-codenerd's fsnotify-driven MangleWatcher (debounced
// events, a stats struct, Start/Stop lifecycle) adapted from validating
// Mangle rule files to reconciling checklist section names.
package docmaint

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omegacore/omegad/internal/heartbeat"
)

// debounceWindow batches rapid successive saves (editors that write a file
// in several small operations) into a single reconciliation pass.
const debounceWindow = 500 * time.Millisecond

// inboxPruneAge is how old a workspace/inbox attachment must be before
// docmaint removes it unconditionally, as the backstop for a pipeline run
// that never reached its own RAII cleanup.
const inboxPruneAge = 24 * time.Hour

// Stats tracks watcher activity, returned by Maintainer.Stats and used in
// tests.
type Stats struct {
	ChecklistSyncs int
	InboxPrunes    int
	Errors         int
}

// Maintainer watches promptsDir (the global HEARTBEAT.md) and projectsDir
// (each project's own checklist, if any) for edits, and periodically
// sweeps workspaceDir/inbox for stale attachments.
type Maintainer struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	promptsDir  string
	projectsDir string
	workspace   string
	pruneEvery  time.Duration
	debounce    map[string]time.Time
	stats       Stats
}

// New builds a Maintainer. pruneEvery defaults to one hour when <= 0.
func New(promptsDir, projectsDir, workspace string, pruneEvery time.Duration) (*Maintainer, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if pruneEvery <= 0 {
		pruneEvery = time.Hour
	}
	return &Maintainer{
		watcher:     w,
		promptsDir:  promptsDir,
		projectsDir: projectsDir,
		workspace:   workspace,
		pruneEvery:  pruneEvery,
		debounce:    make(map[string]time.Time),
	}, nil
}

// Run watches promptsDir and projectsDir and prunes stale workspace/inbox
// attachments every pruneEvery, until ctx is cancelled.
func (m *Maintainer) Run(ctx context.Context) {
	defer m.watcher.Close()

	if err := m.watcher.Add(m.promptsDir); err != nil {
		slog.Warn("docmaint: cannot watch prompts dir", "dir", m.promptsDir, "error", err)
	}
	m.addProjectDirs()

	pruneTicker := time.NewTicker(m.pruneEvery)
	defer pruneTicker.Stop()
	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	m.pruneInbox()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("docmaint: watcher error", "error", err)
			m.mu.Lock()
			m.stats.Errors++
			m.mu.Unlock()
		case <-debounceTicker.C:
			m.flushDebounced()
		case <-pruneTicker.C:
			m.pruneInbox()
		}
	}
}

// addProjectDirs adds every top-level, non-disabled project directory
// under projectsDir to the watch list, so a project's own HEARTBEAT.md
// reacts to edits the same as the global checklist does.
func (m *Maintainer) addProjectDirs() {
	entries, err := os.ReadDir(m.projectsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.projectsDir, e.Name(), ".disabled")); err == nil {
			continue
		}
		dir := filepath.Join(m.projectsDir, e.Name())
		if err := m.watcher.Add(dir); err != nil {
			slog.Warn("docmaint: cannot watch project dir", "dir", dir, "error", err)
		}
	}
}

func (m *Maintainer) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != "HEARTBEAT.md" && filepath.Base(event.Name) != "HEARTBEAT.suppress" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	m.mu.Lock()
	m.debounce[event.Name] = time.Now()
	m.mu.Unlock()
}

func (m *Maintainer) flushDebounced() {
	m.mu.Lock()
	var settled []string
	now := time.Now()
	for path, at := range m.debounce {
		if now.Sub(at) >= debounceWindow {
			settled = append(settled, path)
			delete(m.debounce, path)
		}
	}
	m.mu.Unlock()

	for _, path := range settled {
		m.reconcile(path)
	}
}

// reconcile re-derives which project-named sections the global checklist
// still carries and which ones have since grown their own project-scoped
// HEARTBEAT.md — a project that gained its own checklist should have its
// section dropped from the global one, matching heartbeat's own
// StripProjectSections logic at read time. docmaint's job is just to keep
// this consistent between heartbeat ticks, not to rewrite files itself:
// it logs drift so an operator notices a stale duplicate section.
func (m *Maintainer) reconcile(path string) {
	globalText, err := os.ReadFile(filepath.Join(m.promptsDir, "HEARTBEAT.md"))
	if err != nil {
		return
	}
	sections := heartbeat.ParseChecklist(string(globalText))
	owned := m.projectsWithOwnChecklist()

	for _, sec := range sections {
		if owned[heartbeat.NormalizeSectionName(sec.Name)] {
			slog.Info("docmaint: global checklist section duplicates a project's own checklist",
				"section", sec.Name, "trigger", path)
		}
	}

	m.mu.Lock()
	m.stats.ChecklistSyncs++
	m.mu.Unlock()
}

func (m *Maintainer) projectsWithOwnChecklist() map[string]bool {
	out := make(map[string]bool)
	entries, err := os.ReadDir(m.projectsDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.projectsDir, e.Name(), ".disabled")); err == nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.projectsDir, e.Name(), "HEARTBEAT.md")); err == nil {
			out[heartbeat.NormalizeSectionName(e.Name())] = true
		}
	}
	return out
}

// pruneInbox removes workspace/inbox attachments older than inboxPruneAge
// that survived past the pipeline's own RAII cleanup.
func (m *Maintainer) pruneInbox() {
	dir := filepath.Join(m.workspace, "inbox")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-inboxPruneAge)
	pruned := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("docmaint: failed to prune stale inbox attachment", "path", path, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		slog.Info("docmaint: pruned stale inbox attachments", "count", pruned)
	}
	m.mu.Lock()
	m.stats.InboxPrunes += pruned
	m.mu.Unlock()
}

// Stats returns a snapshot of watcher activity.
func (m *Maintainer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
