package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omegacore/omegad/internal/bus"
	"github.com/omegacore/omegad/internal/channels"
)

type stubChannel struct {
	name string
	sent []bus.OutboundMessage
}

func (c *stubChannel) Name() string                                  { return c.name }
func (c *stubChannel) Start(ctx context.Context) error                { return nil }
func (c *stubChannel) Stop(ctx context.Context) error                 { return nil }
func (c *stubChannel) IsRunning() bool                                { return true }
func (c *stubChannel) IsAllowed(senderID string) bool                 { return true }
func (c *stubChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func newTestServer(t *testing.T, token string) (*Server, *stubChannel, *bus.MessageBus) {
	t.Helper()
	msgBus := bus.NewWithCapacity(8)
	mgr := channels.NewManager(msgBus)
	ch := &stubChannel{name: "telegram"}
	mgr.RegisterChannel("telegram", ch)
	return New(token, mgr, msgBus), ch, msgBus
}

func TestHealth_ReportsQueueDepth(t *testing.T) {
	s, _, msgBus := newTestServer(t, "")
	msgBus.PublishInbound(bus.InboundMessage{Channel: "telegram", SenderID: "u1", ChatID: "c1", Content: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	depth := body["queue_depth"].(map[string]any)
	require.EqualValues(t, 1, depth["inbound"])
}

func TestWebhook_RequiresBearerToken(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")

	body := strings.NewReader(`{"mode":"direct","channel":"telegram","chat_id":"c1","content":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_DirectModeSendsToChannel(t *testing.T) {
	s, ch, _ := newTestServer(t, "secret")

	body := strings.NewReader(`{"mode":"direct","channel":"telegram","chat_id":"c1","content":"hello there"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", body)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ch.sent, 1)
	require.Equal(t, "hello there", ch.sent[0].Content)
}

func TestWebhook_AIModeInjectsInbound(t *testing.T) {
	s, _, msgBus := newTestServer(t, "secret")

	body := strings.NewReader(`{"mode":"ai","channel":"telegram","chat_id":"c1","sender_id":"u42","content":"remind me tomorrow"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", body)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)
	require.Equal(t, "u42", msg.SenderID)
	require.Equal(t, "remind me tomorrow", msg.Content)
}

func TestWebhook_RejectsUnknownMode(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	body := strings.NewReader(`{"mode":"carrier-pigeon","channel":"telegram","chat_id":"c1","content":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
