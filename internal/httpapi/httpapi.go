// Package httpapi implements the gateway's optional management HTTP
// surface: GET /health and POST /api/webhook (spec's "Optional HTTP
// management surface"). Grounded on the teacher's internal/http handlers
// (plain net/http.ServeMux, a bearer-token auth middleware wrapping each
// handler, a writeJSON helper) — no framework, matching the rest of the
// pack's preference for small admin surfaces over heavy HTTP stacks.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
)

// WebhookMode selects how a webhook event is turned into gateway traffic.
type WebhookMode string

const (
	// ModeDirect synthesizes an outbound message and sends it straight to
	// a channel, bypassing the pipeline entirely.
	ModeDirect WebhookMode = "direct"
	// ModeAI synthesizes an inbound message as though it came from an
	// allowed sender and injects it onto the orchestrator's inbound mpsc,
	// so it runs through the full pipeline (auth, context, backend call).
	ModeAI WebhookMode = "ai"
)

// webhookRequest is the POST /api/webhook body.
type webhookRequest struct {
	Mode     WebhookMode `json:"mode"`
	Channel  string      `json:"channel"`
	ChatID   string      `json:"chat_id"`
	SenderID string      `json:"sender_id,omitempty"` // "ai" mode falls back to ChatID when empty
	Content  string      `json:"content"`
}

// Server is the gateway's management HTTP surface.
type Server struct {
	mux        *http.ServeMux
	token      string
	channelMgr *channels.Manager
	router     bus.MessageRouter
	startedAt  time.Time
}

// New builds a Server. token is the bearer token /api/webhook requires; an
// empty token disables auth (used in local/dev setups), matching the
// teacher's authMiddleware convention of skipping the check when no token
// is configured.
func New(token string, channelMgr *channels.Manager, router bus.MessageRouter) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		token:      token,
		channelMgr: channelMgr,
		router:     router,
		startedAt:  time.Now(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/webhook", s.authMiddleware(s.handleWebhook))
	return s
}

// Handler returns the server's http.Handler, for use with http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && extractBearerToken(r) != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// depthReporter is the optional capability *bus.MessageBus satisfies,
// matching the channels.TypingSender pattern: httpapi depends only on the
// bus.MessageRouter interface, and type-asserts for queue-depth reporting
// rather than widening that interface for one diagnostic field.
type depthReporter interface {
	Depth() (inbound, outbound int)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}
	if dr, ok := s.router.(depthReporter); ok {
		inbound, outbound := dr.Depth()
		body["queue_depth"] = map[string]int{"inbound": inbound, "outbound": outbound}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Channel == "" || req.ChatID == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel, chat_id and content are required"})
		return
	}

	switch req.Mode {
	case ModeDirect, "":
		if err := s.channelMgr.SendToChannel(r.Context(), req.Channel, req.ChatID, req.Content); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "mode": string(ModeDirect)})

	case ModeAI:
		senderID := req.SenderID
		if senderID == "" {
			senderID = req.ChatID
		}
		s.router.PublishInbound(bus.InboundMessage{
			Channel:  req.Channel,
			SenderID: senderID,
			ChatID:   req.ChatID,
			Content:  req.Content,
			PeerKind: "direct",
			Metadata: map[string]string{"source": "webhook"},
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"ok": "true", "mode": string(ModeAI)})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be \"direct\" or \"ai\""})
	}
}

func extractBearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
