package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/event"
)

// ActivityAction handles "create_activity" actions: it builds an activity
// record request from the event and hands it to an ActivityRecorder (the
// boundary to the activities module).
type ActivityAction struct {
	recorder ActivityRecorder
}

// ActivityRecorder persists activity records.
type ActivityRecorder interface {
	Record(ctx context.Context, rec ActivityRecord) error
}

// ActivityRecord is the request sent to a recorder.
type ActivityRecord struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"description"`
	EntityType   string    `json:"entity_type"`
	EntityID     uuid.UUID `json:"entity_id"`
	EventID      uuid.UUID `json:"event_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewActivity creates the executor. A nil recorder drops records after
// validation, keeping the action usable before the activities module exists.
func NewActivity(rec ActivityRecorder) *ActivityAction {
	return &ActivityAction{recorder: rec}
}

func (a *ActivityAction) Type() string { return "create_activity" }

func (a *ActivityAction) Validate(params map[string]any) error {
	if t, _ := params["activity_type"].(string); t == "" {
		return fmt.Errorf("create_activity: 'activity_type' is required")
	}
	return nil
}

func (a *ActivityAction) Execute(ctx context.Context, act Action, ev *event.Event) (map[string]any, error) {
	activityType, _ := act.Params["activity_type"].(string)
	if activityType == "" {
		return nil, fmt.Errorf("create_activity: 'activity_type' is required")
	}
	description, _ := act.Params["description"].(string)

	rec := ActivityRecord{
		ID:           uuid.New(),
		TenantID:     ev.TenantID,
		ActivityType: activityType,
		Description:  description,
		EntityType:   ev.EntityType,
		EntityID:     ev.EntityID,
		EventID:      ev.ID,
		CreatedAt:    time.Now().UTC(),
	}
	if a.recorder != nil {
		if err := a.recorder.Record(ctx, rec); err != nil {
			return nil, fmt.Errorf("create_activity %q: %w", activityType, err)
		}
	}
	return map[string]any{
		"type":          "create_activity",
		"status":        "queued",
		"activity_id":   rec.ID.String(),
		"activity_type": activityType,
	}, nil
}
