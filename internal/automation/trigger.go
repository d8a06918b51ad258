package automation

import (
	"context"
	"log/slog"

	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/stream"
)

// GroupName is the consumer group representing the automation engine on the
// bus; all engine instances compete within it.
const GroupName = "automation"

// TriggerHandler binds the engine to bus events: one subscription under the
// automation group, filtered to the configured event types.
type TriggerHandler struct {
	consumer *stream.Consumer
	engine   *Engine
	name     string
	log      *slog.Logger
}

// NewTriggerHandler creates the binding. name is the per-instance consumer
// name within the automation group.
func NewTriggerHandler(consumer *stream.Consumer, engine *Engine, name string, log *slog.Logger) *TriggerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TriggerHandler{consumer: consumer, engine: engine, name: name, log: log}
}

// Start subscribes the engine to the given event types; empty means every
// domain event.
func (t *TriggerHandler) Start(ctx context.Context, eventTypes []string) error {
	return t.consumer.Subscribe(ctx, stream.Subscription{
		Group:      GroupName,
		Consumer:   t.name,
		EventTypes: eventTypes,
	}, t.handle)
}

func (t *TriggerHandler) handle(ctx context.Context, ev *event.Event) error {
	execs, err := t.engine.ProcessEvent(ctx, ev)
	if err != nil {
		return err
	}
	if len(execs) > 0 {
		t.log.Info("automation processed event",
			"event_type", ev.Type, "event_id", ev.ID, "rules_run", len(execs))
	}
	return nil
}

// Stop cascades to the underlying consumer.
func (t *TriggerHandler) Stop() {
	t.consumer.Stop()
}
