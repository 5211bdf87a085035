package gatewaycore

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/classify"
	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/markers"
	"github.com/omegacore/omegad/internal/memory"
	"github.com/omegacore/omegad/internal/prompt"
	"github.com/omegacore/omegad/internal/sanitize"
)

// Backend is the subset of completion.Backend (or router.Router) the
// pipeline needs, kept narrow so tests can stub it without constructing a
// real router.
type Backend interface {
	Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error)
}

// Pipeline runs one inbound message through spec §4.2's 15 stages. The
// stages run in order inside runStages, which calls helper methods below
// for the larger ones (sanitization, typing, nudges, delivery).
type Pipeline struct {
	store      *memory.Store
	channelMgr *channels.Manager
	backend    Backend
	cfg        *config.Config
	workspace  string

	// process is the seam orchestrator_test.go stubs out; NewPipeline
	// always wires it to runStages.
	process func(ctx context.Context, msg bus.InboundMessage) error
}

// NewPipeline builds a Pipeline over its dependencies.
func NewPipeline(store *memory.Store, channelMgr *channels.Manager, backend Backend, cfg *config.Config, workspace string) *Pipeline {
	p := &Pipeline{store: store, channelMgr: channelMgr, backend: backend, cfg: cfg, workspace: workspace}
	p.process = p.runStages
	return p
}

// Process runs msg through the pipeline.
func (p *Pipeline) Process(ctx context.Context, msg bus.InboundMessage) error {
	return p.process(ctx, msg)
}

// nudgeFirst/nudgeRepeat are the backend-call keep-alive cadence spec §4.2
// stage 10 names: an initial nudge at 15s, then every 120s until the call
// returns, so a slow backend still shows the user it's working.
const (
	nudgeFirst  = 15 * time.Second
	nudgeRepeat = 120 * time.Second
)

func (p *Pipeline) runStages(ctx context.Context, msg bus.InboundMessage) error {
	// Stage 1: alias resolution.
	senderID, err := p.store.ResolveAlias(ctx, msg.SenderID)
	if err != nil {
		return wrapStage("alias_resolution", CategoryMemory, err)
	}

	// Stage 2: authorization.
	if p.cfg.Auth.Enabled {
		ch, ok := p.channelMgr.GetChannel(msg.Channel)
		if ok && !ch.IsAllowed(senderID) {
			_ = p.channelMgr.SendToChannel(ctx, msg.Channel, msg.ChatID, p.cfg.Auth.DenyMessage)
			return nil
		}
	}

	// Stage 3: sanitization — strip EXIF/polyglot trailers from any
	// inbound media before it ever reaches the backend or the workspace.
	// Both the original workspace/inbox attachment and any sanitized copy
	// are RAII-deleted on every exit path from this function, per spec's
	// "workspace/inbox/<uuid>.jpg ... RAII-deleted on pipeline exit".
	sanitizedMedia := p.sanitizeMedia(msg.Media)
	defer cleanupMedia(msg.Media, sanitizedMedia)

	project := p.activeProject(ctx, senderID)

	// Stage 4: command dispatch. Recognized slash commands never reach the
	// backend; an unrecognized one continues through the pipeline as a
	// normal message.
	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		reply := p.dispatchCommand(ctx, senderID, msg, project)
		if reply != "" {
			_ = p.channelMgr.SendToChannel(ctx, msg.Channel, msg.ChatID, reply)
			return nil
		}
	}

	conv, err := p.store.LookupOrCreate(ctx, msg.Channel, senderID, project)
	if err != nil {
		return wrapStage("context_build", CategoryMemory, err)
	}

	// Stage 5: typing indicator repeater, stopped when the turn concludes.
	stopTyping := p.startTyping(ctx, msg.Channel, msg.ChatID)
	defer stopTyping()

	// Stage 6: keyword classification.
	needs := classify.Needs(msg.Content)

	// Stage 7: context build — one concurrent-read operation.
	bundle, err := p.store.AssembleContext(ctx, conv, msg.Content, needs, p.cfg.Memory.MaxContextMessages)
	if err != nil {
		return wrapStage("context_build", CategoryMemory, err)
	}

	// Stage 8: session lookup.
	sessionID, hasSession, err := p.store.CLISession(ctx, msg.Channel, senderID, project)
	if err != nil {
		return wrapStage("session_lookup", CategoryMemory, err)
	}

	// Stage 9: classify-and-route. A multi-step plan still goes through a
	// single backend call here — the backend's own agentic tool loop does
	// the actual step-by-step execution; this stage only decides whether
	// to prime the system prompt with a "work through these steps" framing.
	route := classify.RouteMessage(msg.Content)

	onboarded := false
	for _, f := range bundle.Facts {
		if f.Key == "onboarding.stage" && f.Value == "done" {
			onboarded = true
		}
	}
	systemPrompt := prompt.Assemble(bundle, prompt.Options{
		AgentName: p.cfg.Omega.Name, Project: project, Language: conv.Language, Onboarded: onboarded,
	})
	if !route.Direct {
		systemPrompt += "\n\nWork through these steps in order:\n- " + strings.Join(route.Steps, "\n- ")
	}

	hist := prompt.History(bundle)
	history := make([]completion.Message, 0, len(hist))
	for _, h := range hist {
		history = append(history, completion.Message{Role: h.Role, Content: h.Content})
	}

	beforeImages := p.snapshotWorkspaceImages()
	images := p.loadImages(sanitizedMedia)

	// Stage 10: backend call, with a keep-alive nudge cadence for slow
	// turns.
	stopNudge := p.startNudges(ctx, msg.Channel, msg.ChatID)
	out, err := p.backend.Complete(ctx, completion.TurnRequest{
		SystemPrompt:     systemPrompt,
		History:          history,
		CurrentMessage:   msg.Content,
		Images:           images,
		SessionID:        sessionID,
		ContinuationTurn: hasSession,
		ToolsAllowed:     true,
	})
	stopNudge()
	if err != nil {
		return wrapStage("backend_call", CategoryProvider, err)
	}

	// Stage 11: marker processing.
	parsed, parseErrs := markers.Extract(out.Text)
	for _, pe := range parseErrs {
		slog.Warn("gatewaycore: marker parse error, span stripped from reply", "reason", pe.Reason, "raw", pe.Raw)
	}
	deps := markers.Deps{Store: p.store, Conv: conv, Channel: msg.Channel, ChatID: msg.ChatID, Project: project}
	results := make([]markers.Result, 0, len(parsed))
	for _, m := range parsed {
		results = append(results, markers.Execute(ctx, deps, m))
	}
	reply := markers.Strip(out.Text)
	if confirmation := markers.Compose(results, nil); confirmation != "" {
		reply = strings.TrimSpace(reply + "\n\n" + confirmation)
	}

	// Stage 12: store exchange.
	if _, err := p.store.AppendMessage(ctx, conv.ID, "user", msg.Content, msg.Metadata); err != nil {
		return wrapStage("store_exchange", CategoryMemory, err)
	}
	if _, err := p.store.AppendMessage(ctx, conv.ID, "assistant", reply, nil); err != nil {
		return wrapStage("store_exchange", CategoryMemory, err)
	}
	if out.Metadata.SessionID != "" {
		_ = p.store.SetSessionID(ctx, conv.ID, out.Metadata.SessionID)
		_ = p.store.SetCLISession(ctx, msg.Channel, senderID, project, out.Metadata.SessionID)
	}

	// Stage 13: audit.
	_ = p.store.AppendAudit(ctx, msg.Channel, senderID, conv.ID, "turn", reply)

	// Stage 14: delivery, sent as plain text in chunks of deliverChunkSize.
	// A failed chunk is logged and the remaining chunks are not sent; there
	// is no retry and no formatted (rich) send.
	p.deliver(ctx, msg.Channel, msg.ChatID, reply)

	// Stage 15: workspace image delivery — diff the workspace images
	// directory's (filename, mtime) snapshot from before/after the backend
	// call and deliver anything new or modified as a photo attachment.
	p.deliverNewImages(ctx, msg.Channel, msg.ChatID, beforeImages)

	return nil
}

// loadImages base64-encodes the sanitized inbound media paths so vision-
// capable backends can see them; anything unreadable is dropped silently
// rather than failing the whole turn over one bad attachment.
func (p *Pipeline) loadImages(paths []string) []completion.ImageContent {
	var out []completion.ImageContent
	for _, path := range paths {
		if !looksLikeImage(path) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, completion.ImageContent{
			MimeType: mimeTypeFor(path),
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return out
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func (p *Pipeline) sanitizeMedia(media []string) []string {
	out := make([]string, 0, len(media))
	for _, m := range media {
		if looksLikeImage(m) {
			if cleaned, err := sanitize.Image(m); err == nil {
				out = append(out, cleaned)
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// cleanupMedia removes every inbound attachment and sanitized copy once a
// turn has run, whichever stage it exited at. Missing files (already
// pruned, or never written) are not an error.
func cleanupMedia(sets ...[]string) {
	for _, set := range sets {
		for _, path := range set {
			if path == "" {
				continue
			}
			_ = os.Remove(path)
		}
	}
}

func looksLikeImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg" || ext == ".png"
}

func (p *Pipeline) activeProject(ctx context.Context, senderID string) string {
	facts, err := p.store.Facts(ctx, senderID)
	if err != nil {
		return ""
	}
	for _, f := range facts {
		if f.Key == "project.active" {
			return f.Value
		}
	}
	return ""
}

func (p *Pipeline) startTyping(ctx context.Context, channel, chatID string) func() {
	stopped := make(chan struct{})
	ticker := time.NewTicker(4 * time.Second)
	go func() {
		defer ticker.Stop()
		_ = p.channelMgr.SendTyping(ctx, channel, chatID)
		for {
			select {
			case <-stopped:
				return
			case <-ticker.C:
				_ = p.channelMgr.SendTyping(ctx, channel, chatID)
			}
		}
	}()
	return func() { close(stopped) }
}

func (p *Pipeline) startNudges(ctx context.Context, channel, chatID string) func() {
	stop := make(chan struct{})
	go func() {
		first := time.NewTimer(nudgeFirst)
		defer first.Stop()
		select {
		case <-stop:
			return
		case <-first.C:
		}
		_ = p.channelMgr.SendToChannel(ctx, channel, chatID, "Still working on it…")

		ticker := time.NewTicker(nudgeRepeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = p.channelMgr.SendToChannel(ctx, channel, chatID, "Still working on it…")
			}
		}
	}()
	return func() { close(stop) }
}

// deliverChunkSize matches the common chat-platform message ceiling
// (Telegram's 4096-character cap is the binding one in this stack).
const deliverChunkSize = 4000

func (p *Pipeline) deliver(ctx context.Context, channel, chatID, content string) {
	if content == "" {
		return
	}
	for len(content) > 0 {
		chunk := content
		if len(chunk) > deliverChunkSize {
			chunk = content[:deliverChunkSize]
		}
		if err := p.channelMgr.SendToChannel(ctx, channel, chatID, chunk); err != nil {
			slog.Error("gatewaycore: delivery failed", "channel", channel, "error", err)
			return
		}
		content = content[len(chunk):]
	}
}

func (p *Pipeline) imagesDir() string {
	return filepath.Join(p.workspace, "images")
}

func (p *Pipeline) snapshotWorkspaceImages() map[string]time.Time {
	out := map[string]time.Time{}
	entries, err := os.ReadDir(p.imagesDir())
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = info.ModTime()
	}
	return out
}

func (p *Pipeline) deliverNewImages(ctx context.Context, channel, chatID string, before map[string]time.Time) {
	after := p.snapshotWorkspaceImages()
	for name, mtime := range after {
		prevMtime, existed := before[name]
		if existed && !mtime.After(prevMtime) {
			continue
		}
		path := filepath.Join(p.imagesDir(), name)
		msg := bus.OutboundMessage{
			Channel: channel, ChatID: chatID,
			Media: []bus.MediaAttachment{{URL: path, ContentType: mimeTypeFor(name)}},
		}
		if ch, ok := p.channelMgr.GetChannel(channel); ok {
			if err := ch.Send(ctx, msg); err != nil {
				slog.Error("gatewaycore: image delivery failed", "channel", channel, "path", path, "error", err)
			}
		}
	}
}

