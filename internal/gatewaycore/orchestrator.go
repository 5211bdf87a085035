package gatewaycore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/omegacore/omegad/internal/bus"
)

// Orchestrator consumes inbound messages off the bus and runs them through
// the Pipeline, guaranteeing per-sender FIFO ordering: two messages from
// the same canonical sender_id never run concurrently, but two different
// senders' messages do, without a worker pool or per-sender goroutine pool
// sitting idle. This is spec §4.1's busy-set: a canonical sender_id → FIFO
// buffer map, with a mutex guarding only membership mutation (claiming or
// releasing a sender's slot), never the message processing itself. New
// code (the teacher's multi-tenant/multi-agent internal/channels/manager.go
// tracks in-flight runs with a bare sync.Map for cross-cutting status, not
// an ordering guarantee — this busy-set generalizes that bookkeeping
// pattern to the spec's single-agent strict-FIFO-per-sender requirement).
type Orchestrator struct {
	router bus.MessageRouter
	pipe   *Pipeline

	mu    sync.Mutex
	busy  map[string][]bus.InboundMessage
	wg    sync.WaitGroup
}

// NewOrchestrator builds an Orchestrator over router, dispatching every
// inbound message to pipe.
func NewOrchestrator(router bus.MessageRouter, pipe *Pipeline) *Orchestrator {
	return &Orchestrator{
		router: router,
		pipe:   pipe,
		busy:   make(map[string][]bus.InboundMessage),
	}
}

// Run consumes inbound messages until ctx is cancelled, then waits for any
// in-flight per-sender workers to drain before returning (graceful
// shutdown: no message is dropped mid-turn).
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		msg, ok := o.router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("gatewaycore: inbound consumer stopped")
			o.wg.Wait()
			return
		}
		o.dispatch(ctx, msg)
	}
}

// canonicalSender is the busy-set key: channel-scoped so the same human
// across two channels occupies two independent FIFO lanes (spec keys the
// busy-set by sender_id, and a sender_id is already channel-scoped at the
// bus boundary — "telegram:123" vs "whatsapp:123" never collide).
func canonicalSender(msg bus.InboundMessage) string {
	return msg.Channel + ":" + msg.SenderID
}

// dispatch enqueues msg onto its sender's FIFO lane. If the lane was idle
// it starts a worker goroutine; otherwise the message waits behind
// whatever that sender already has in flight.
func (o *Orchestrator) dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := canonicalSender(msg)

	o.mu.Lock()
	queue, inFlight := o.busy[key]
	o.busy[key] = append(queue, msg)
	o.mu.Unlock()

	if inFlight {
		return // a worker for this sender is already draining the lane
	}

	o.wg.Add(1)
	go o.drain(ctx, key)
}

// drain processes every message queued for key, one at a time, until the
// lane is empty, then releases the busy-set slot. Because releasing and
// re-checking are both done under the same lock, a message that arrives
// between "queue looks empty" and "release the slot" is never lost — it's
// either seen before release (drain keeps going) or triggers a fresh
// dispatch afterward.
func (o *Orchestrator) drain(ctx context.Context, key string) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		queue := o.busy[key]
		if len(queue) == 0 {
			delete(o.busy, key)
			o.mu.Unlock()
			return
		}
		next := queue[0]
		o.busy[key] = queue[1:]
		o.mu.Unlock()

		if err := o.pipe.Process(context.WithoutCancel(ctx), next); err != nil {
			slog.Error("gatewaycore: pipeline error", "sender", key, "error", err)
		}
	}
}

// Depth reports how many messages are queued for a sender, not counting
// the one in flight.
func (o *Orchestrator) Depth(channel, senderID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.busy[channel+":"+senderID])
}
