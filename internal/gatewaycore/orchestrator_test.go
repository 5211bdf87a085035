package gatewaycore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omegacore/omegad/internal/bus"
)

// fakeRouter feeds a fixed slice of inbound messages then reports closed.
type fakeRouter struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (f *fakeRouter) PublishInbound(bus.InboundMessage) {}
func (f *fakeRouter) ConsumeInbound(ctx context.Context) (bus.InboundMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return bus.InboundMessage{}, false
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, true
}
func (f *fakeRouter) PublishOutbound(bus.OutboundMessage) {}
func (f *fakeRouter) SubscribeOutbound(ctx context.Context) (bus.OutboundMessage, bool) {
	<-ctx.Done()
	return bus.OutboundMessage{}, false
}

// recordingPipeline logs the (sender, sequence) order it processed
// messages in, with an artificial delay on the first message per sender so
// a second message for the same sender queued while the first was still
// "in flight" proves it waited instead of running concurrently.
type recordingPipeline struct {
	mu    sync.Mutex
	order []string
	delay time.Duration
}

func (p *recordingPipeline) Process(ctx context.Context, msg bus.InboundMessage) error {
	if msg.Content == "first" {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.order = append(p.order, msg.SenderID+":"+msg.Content)
	p.mu.Unlock()
	return nil
}

func TestPerSenderFIFO(t *testing.T) {
	router := &fakeRouter{msgs: []bus.InboundMessage{
		{Channel: "telegram", SenderID: "u1", Content: "first"},
		{Channel: "telegram", SenderID: "u1", Content: "second"},
		{Channel: "telegram", SenderID: "u2", Content: "other"},
	}}
	rec := &recordingPipeline{delay: 50 * time.Millisecond}

	o := &Orchestrator{router: router, busy: make(map[string][]bus.InboundMessage)}
	o.pipe = &Pipeline{process: rec.Process}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	o.Run(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Contains(t, rec.order, "u1:first")
	require.Contains(t, rec.order, "u1:second")

	firstIdx, secondIdx := -1, -1
	for i, v := range rec.order {
		if v == "u1:first" {
			firstIdx = i
		}
		if v == "u1:second" {
			secondIdx = i
		}
	}
	require.True(t, firstIdx < secondIdx, "u1's messages must process strictly in arrival order")
}
