package action

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/harmonia-erp/pulse/internal/event"
)

// WebhookAction handles "invoke_api" actions. Outbound delivery is not
// implemented yet; the executor validates the request shape and reports
// what would be called.
// TODO: perform the HTTP call once outbound egress policy is settled.
type WebhookAction struct{}

func NewWebhook() *WebhookAction { return &WebhookAction{} }

func (w *WebhookAction) Type() string { return "invoke_api" }

func (w *WebhookAction) Validate(params map[string]any) error {
	raw, _ := params["url"].(string)
	if raw == "" {
		return fmt.Errorf("invoke_api: 'url' is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invoke_api: invalid url %q", raw)
	}
	return nil
}

func (w *WebhookAction) Execute(ctx context.Context, a Action, ev *event.Event) (map[string]any, error) {
	if err := w.Validate(a.Params); err != nil {
		return nil, err
	}
	method, _ := a.Params["method"].(string)
	if method == "" {
		method = "POST"
	}
	return map[string]any{
		"type":     "invoke_api",
		"status":   "not_implemented",
		"url":      a.Params["url"],
		"method":   strings.ToUpper(method),
		"event_id": ev.ID.String(),
	}, nil
}
