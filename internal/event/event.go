package event

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// typePattern enforces the "<module>.<action>" event type format:
// exactly two lowercase/underscore segments separated by one dot.
var typePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// ErrInvalidType is returned when an event type does not match typePattern.
var ErrInvalidType = fmt.Errorf("event type must match '<module>.<action>' (lowercase, underscores)")

// Metadata carries event provenance plus an open map used by condition
// evaluation and action payloads.
type Metadata struct {
	Source         string         `json:"source"`
	Version        string         `json:"version"`
	AdditionalData map[string]any `json:"additional_data"`
}

// Event is an immutable record of a domain occurrence. Construct it with
// New; fields are read-only afterwards.
type Event struct {
	ID         uuid.UUID  `json:"event_id"`
	Type       string     `json:"event_type"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Metadata   Metadata   `json:"metadata"`
}

// New validates and builds an Event. The event ID and UTC timestamp are
// generated here; userID may be nil for system-originated events.
func New(eventType, entityType string, entityID, tenantID uuid.UUID, userID *uuid.UUID, meta Metadata) (*Event, error) {
	if !typePattern.MatchString(eventType) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidType, eventType)
	}
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("event %q: tenant id is required", eventType)
	}
	if meta.Source == "" {
		meta.Source = "unknown"
	}
	if meta.Version == "" {
		meta.Version = "1.0"
	}
	if meta.AdditionalData == nil {
		meta.AdditionalData = map[string]any{}
	}
	return &Event{
		ID:         uuid.New(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		TenantID:   tenantID,
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
		Metadata:   meta,
	}, nil
}

// Module returns the "<module>" segment of the event type.
func (e *Event) Module() string {
	for i := 0; i < len(e.Type); i++ {
		if e.Type[i] == '.' {
			return e.Type[:i]
		}
	}
	return e.Type
}
