package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/metrics"
)

// technicalModules lists the event-type module segments routed to the
// technical stream; everything else is a domain event.
var technicalModules = map[string]bool{
	"system":       true,
	"integration":  true,
	"audit":        true,
	"notification": true,
}

// Publisher appends events to the bus. Each publish is exactly one append
// with no retry; callers decide whether a failed publish is worth retrying.
type Publisher struct {
	broker  Broker
	streams StreamNames
	log     *slog.Logger
}

// NewPublisher creates a publisher over the given broker.
func NewPublisher(b Broker, streams StreamNames, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{broker: b, streams: streams, log: log}
}

// StreamFor returns the logical stream an event type routes to.
func (p *Publisher) StreamFor(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			if technicalModules[eventType[:i]] {
				return p.streams.Technical
			}
			break
		}
	}
	return p.streams.Domain
}

// Publish validates, constructs, and appends an event. Validation failures
// surface before any broker call; append failures are wrapped as ErrPublish.
// Returns the broker-assigned message ID and the constructed event.
func (p *Publisher) Publish(ctx context.Context, eventType, entityType string, entityID, tenantID uuid.UUID, userID *uuid.UUID, meta event.Metadata) (string, *event.Event, error) {
	ev, err := event.New(eventType, entityType, entityID, tenantID, userID, meta)
	if err != nil {
		return "", nil, err
	}

	fields, err := ev.Fields()
	if err != nil {
		return "", nil, err
	}

	target := p.StreamFor(ev.Type)
	id, err := p.broker.Add(ctx, target, fields)
	if err != nil {
		return "", nil, fmt.Errorf("%w: event %q to %q: %v", ErrPublish, ev.Type, target, err)
	}

	metrics.EventsPublished.WithLabelValues(target).Inc()
	p.log.Debug("published event",
		"event_type", ev.Type, "event_id", ev.ID, "stream", target, "message_id", id)
	return id, ev, nil
}
