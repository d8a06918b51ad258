package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/metrics"
)

// Handler processes one decoded event. Returning an error triggers the
// retry policy; after exhaustion the message is dead-lettered. Handlers own
// idempotency of their side effects: delivery is at-least-once.
type Handler func(ctx context.Context, ev *event.Event) error

// Subscription describes one consumer read-loop.
type Subscription struct {
	// Stream defaults to the domain stream.
	Stream string
	Group  string
	// Consumer is the per-instance consumer name within the group.
	Consumer string
	// EventTypes filters delivery; empty means all events. Filtered
	// messages are acknowledged immediately so they never sit pending.
	EventTypes []string
	// StartID is the group start position when the group is first created
	// ("0" reads from the beginning, "$" only new messages).
	StartID string
	// RecreateGroup destroys an existing group first so StartID takes
	// effect. Meant for tests that need only-new-messages semantics.
	RecreateGroup bool
}

// Consumer runs background read-loops over stream consumer groups, one
// goroutine per subscription. Loops share only the broker, which is safe
// to use concurrently.
type Consumer struct {
	broker    Broker
	streams   StreamNames
	backoff   Backoff
	batchSize int64
	blockTime time.Duration
	loopDelay time.Duration
	log       *slog.Logger

	running atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer. The backoff policy governs per-message
// handler retries; loop-level read errors use a flat short delay instead.
func NewConsumer(b Broker, streams StreamNames, backoff Backoff, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if backoff.Log == nil {
		backoff.Log = log
	}
	return &Consumer{
		broker:    b,
		streams:   streams,
		backoff:   backoff,
		batchSize: 10,
		blockTime: time.Second,
		loopDelay: time.Second,
		log:       log,
	}
}

// Subscribe ensures the consumer group exists and starts one background
// read-loop for it. The loop runs until ctx is canceled or Stop is called.
func (c *Consumer) Subscribe(ctx context.Context, sub Subscription, h Handler) error {
	if c.stopped.Load() {
		return ErrConsumerStopped
	}
	if sub.Stream == "" {
		sub.Stream = c.streams.Domain
	}
	if sub.StartID == "" {
		sub.StartID = "0"
	}

	if _, err := EnsureGroup(ctx, c.broker, sub.Stream, sub.Group, sub.StartID, sub.RecreateGroup); err != nil {
		return fmt.Errorf("subscribe %q/%q: %w", sub.Stream, sub.Group, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	c.running.Store(true)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(loopCtx, sub, h)
	}()

	types := "all"
	if len(sub.EventTypes) > 0 {
		types = fmt.Sprint(sub.EventTypes)
	}
	c.log.Info("started consumer",
		"stream", sub.Stream, "group", sub.Group, "consumer", sub.Consumer, "event_types", types)
	return nil
}

func (c *Consumer) readLoop(ctx context.Context, sub Subscription, h Handler) {
	for c.running.Load() && ctx.Err() == nil {
		msgs, err := c.broker.ReadGroup(ctx, sub.Stream, sub.Group, sub.Consumer, c.batchSize, c.blockTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Loop-level resilience: log, pause briefly, retry the whole
			// iteration. Distinct from the per-message retry policy.
			c.log.Error("read loop error", "stream", sub.Stream, "group", sub.Group, "err", err)
			metrics.ReadLoopErrors.Inc()
			select {
			case <-time.After(c.loopDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, sub, msg, h)
		}
	}
}

func (c *Consumer) process(ctx context.Context, sub Subscription, msg Message, h Handler) {
	ev, err := event.FromFields(msg.Values)
	if err != nil {
		// Undecodable messages can never succeed; dead-letter immediately.
		c.log.Error("undecodable message", "stream", sub.Stream, "message_id", msg.ID, "err", err)
		c.deadLetter(ctx, sub, msg, err)
		return
	}

	if len(sub.EventTypes) > 0 && !containsType(sub.EventTypes, ev.Type) {
		if err := c.broker.Ack(ctx, sub.Stream, sub.Group, msg.ID); err != nil {
			c.log.Error("ack of filtered message failed", "message_id", msg.ID, "err", err)
			return
		}
		metrics.EventsFiltered.Inc()
		return
	}

	start := time.Now()
	err = c.backoff.Retry(ctx, "handle event "+ev.ID.String(), func(ctx context.Context) error {
		return h(ctx, ev)
	})
	metrics.HandlerDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if err := c.broker.Ack(ctx, sub.Stream, sub.Group, msg.ID); err != nil {
			c.log.Error("ack failed", "message_id", msg.ID, "err", err)
			return
		}
		metrics.EventsConsumed.WithLabelValues(sub.Group).Inc()
		c.log.Debug("processed event",
			"event_type", ev.Type, "event_id", ev.ID, "message_id", msg.ID)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-retry: leave the message pending so this or another
		// group member picks it up again.
		return
	default:
		c.log.Error("handler exhausted retries",
			"event_type", ev.Type, "event_id", ev.ID, "message_id", msg.ID, "err", err)
		c.deadLetter(ctx, sub, msg, err)
	}
}

// deadLetter appends the original wire fields plus failure context to the
// failed stream, then acknowledges the original message so the group's
// pending set stays bounded even for permanently unprocessable messages.
func (c *Consumer) deadLetter(ctx context.Context, sub Subscription, msg Message, cause error) {
	failed := make(map[string]any, len(msg.Values)+4)
	for k, v := range msg.Values {
		failed[k] = v
	}
	failed["original_stream"] = sub.Stream
	failed["original_message_id"] = msg.ID
	failed["error_info"] = cause.Error()
	failed["failed_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := c.broker.Add(ctx, c.streams.Failed, failed); err != nil {
		// Leave the message pending rather than ack-and-lose it.
		c.log.Error("dead-letter append failed", "message_id", msg.ID, "err", err)
		return
	}
	if err := c.broker.Ack(ctx, sub.Stream, sub.Group, msg.ID); err != nil {
		c.log.Error("ack after dead-letter failed", "message_id", msg.ID, "err", err)
		return
	}
	metrics.EventsDeadLettered.WithLabelValues(sub.Stream).Inc()
	c.log.Warn("moved message to failed stream",
		"message_id", msg.ID, "from", sub.Stream, "to", c.streams.Failed)
}

// ClaimPending reassigns messages pending longer than minIdle from other
// (presumably dead) group members to this consumer. The returned messages
// still need processing and acknowledgment by the caller.
func (c *Consumer) ClaimPending(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := c.broker.Pending(ctx, streamName, group, count)
	if err != nil {
		return nil, fmt.Errorf("claim pending on %q/%q: %w", streamName, group, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	claimed, err := c.broker.Claim(ctx, streamName, group, consumer, minIdle, ids...)
	if err != nil {
		return nil, fmt.Errorf("claim pending on %q/%q: %w", streamName, group, err)
	}
	if len(claimed) > 0 {
		c.log.Info("claimed pending messages",
			"stream", streamName, "group", group, "consumer", consumer, "count", len(claimed))
	}
	return claimed, nil
}

// Stop flips the running flag, cancels all read-loops, and waits for them
// to drain. In-flight handlers finish; shutdown is graceful, not
// instantaneous. Idempotent.
func (c *Consumer) Stop() {
	if c.stopped.Swap(true) {
		return
	}
	c.running.Store(false)
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.wg.Wait()
	c.log.Info("stopped consumer")
}

func containsType(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
