package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harmonia-erp/pulse/internal/event"
)

// NotificationAction handles "notification" actions. It resolves the
// template and recipient list from the action params and the triggering
// event, then hands the rendered request to a NotificationSink. The sink is
// the boundary to the (external) notification service; the bundled queue
// sink just records what would be sent.
type NotificationAction struct {
	sink NotificationSink
}

// NotificationSink receives rendered notification requests.
type NotificationSink interface {
	Notify(ctx context.Context, req NotificationRequest) error
}

// NotificationRequest is the payload delivered to a sink.
type NotificationRequest struct {
	Template   string         `json:"template"`
	Recipients []string       `json:"recipients"`
	TenantID   string         `json:"tenant_id"`
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data"`
}

// LogSink logs notification requests instead of delivering them. Stands in
// until the notification service is wired up.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, req NotificationRequest) error {
	slog.Info("notification queued",
		"template", req.Template, "recipients", req.Recipients, "event_type", req.EventType)
	return nil
}

// NewNotification creates the executor. A nil sink falls back to LogSink.
func NewNotification(sink NotificationSink) *NotificationAction {
	if sink == nil {
		sink = LogSink{}
	}
	return &NotificationAction{sink: sink}
}

func (n *NotificationAction) Type() string { return "notification" }

func (n *NotificationAction) Validate(params map[string]any) error {
	if tpl, _ := params["template"].(string); tpl == "" {
		return fmt.Errorf("notification: 'template' is required")
	}
	return nil
}

func (n *NotificationAction) Execute(ctx context.Context, a Action, ev *event.Event) (map[string]any, error) {
	tpl, _ := a.Params["template"].(string)
	if tpl == "" {
		return nil, fmt.Errorf("notification: 'template' is required")
	}
	req := NotificationRequest{
		Template:   tpl,
		Recipients: stringList(a.Params["recipients"]),
		TenantID:   ev.TenantID.String(),
		EventID:    ev.ID.String(),
		EventType:  ev.Type,
		Data:       ev.Metadata.AdditionalData,
	}
	if err := n.sink.Notify(ctx, req); err != nil {
		return nil, fmt.Errorf("notification %q: %w", tpl, err)
	}
	return map[string]any{
		"type":       "notification",
		"status":     "queued",
		"template":   tpl,
		"recipients": req.Recipients,
	}, nil
}

// stringList coerces a params value into []string; JSON/YAML decoding
// delivers []any.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
