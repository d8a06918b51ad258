package action

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

type captureSink struct {
	last *NotificationRequest
}

func (c *captureSink) Notify(ctx context.Context, req NotificationRequest) error {
	c.last = &req
	return nil
}

func TestNotificationValidate(t *testing.T) {
	n := NewNotification(nil)
	if err := n.Validate(map[string]any{"template": "low_stock"}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := n.Validate(map[string]any{}); err == nil {
		t.Error("missing template should fail validation")
	}
	if err := n.Validate(map[string]any{"template": 42}); err == nil {
		t.Error("non-string template should fail validation")
	}
}

func TestNotificationExecute(t *testing.T) {
	sink := &captureSink{}
	n := NewNotification(sink)
	ev := runnerEvent(t)

	out, err := n.Execute(context.Background(), Action{
		Type: "notification",
		Params: map[string]any{
			"template":   "low_stock",
			"recipients": []any{"ops@example.com", "warehouse@example.com"},
		},
	}, ev)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["status"] != "queued" {
		t.Errorf("status = %v, want queued", out["status"])
	}
	if sink.last == nil {
		t.Fatal("sink never received the request")
	}
	if sink.last.Template != "low_stock" {
		t.Errorf("template = %q", sink.last.Template)
	}
	if len(sink.last.Recipients) != 2 {
		t.Errorf("recipients = %v", sink.last.Recipients)
	}
	if sink.last.EventID != ev.ID.String() {
		t.Errorf("event_id = %q, want %q", sink.last.EventID, ev.ID)
	}
	if sink.last.Data["name"] != "Widget" {
		t.Errorf("data = %v", sink.last.Data)
	}
}

type captureRecorder struct {
	last *ActivityRecord
}

func (c *captureRecorder) Record(ctx context.Context, rec ActivityRecord) error {
	c.last = &rec
	return nil
}

func TestActivityExecute(t *testing.T) {
	rec := &captureRecorder{}
	a := NewActivity(rec)
	ev := runnerEvent(t)

	out, err := a.Execute(context.Background(), Action{
		Type: "create_activity",
		Params: map[string]any{
			"activity_type": "product_created",
			"description":   "a product appeared",
		},
	}, ev)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["activity_type"] != "product_created" {
		t.Errorf("output = %v", out)
	}
	if rec.last == nil {
		t.Fatal("recorder never received the record")
	}
	if rec.last.TenantID != ev.TenantID || rec.last.EventID != ev.ID {
		t.Errorf("record = %+v", rec.last)
	}
	if rec.last.ID == uuid.Nil {
		t.Error("record should get an ID")
	}
}

func TestActivityNilRecorder(t *testing.T) {
	a := NewActivity(nil)
	out, err := a.Execute(context.Background(), Action{
		Type:   "create_activity",
		Params: map[string]any{"activity_type": "product_created"},
	}, runnerEvent(t))
	if err != nil {
		t.Fatalf("Execute without recorder: %v", err)
	}
	if out["status"] != "queued" {
		t.Errorf("output = %v", out)
	}
}

func TestWebhookValidate(t *testing.T) {
	w := NewWebhook()
	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"https", map[string]any{"url": "https://example.com/hook"}, true},
		{"http", map[string]any{"url": "http://internal/hook"}, true},
		{"missing", map[string]any{}, false},
		{"bad scheme", map[string]any{"url": "ftp://example.com"}, false},
		{"garbage", map[string]any{"url": "://nope"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Validate(tt.params)
			if tt.ok && err != nil {
				t.Errorf("Validate(%v) = %v, want nil", tt.params, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("Validate(%v) = nil, want error", tt.params)
			}
		})
	}
}

func TestWebhookExecuteStub(t *testing.T) {
	w := NewWebhook()
	out, err := w.Execute(context.Background(), Action{
		Type:   "invoke_api",
		Params: map[string]any{"url": "https://example.com/hook", "method": "put"},
	}, runnerEvent(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out["status"] != "not_implemented" {
		t.Errorf("status = %v", out["status"])
	}
	if out["method"] != "PUT" {
		t.Errorf("method = %v, want PUT", out["method"])
	}
}
