package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/action"
	"github.com/harmonia-erp/pulse/internal/event"
)

// stubExec is a controllable action executor for engine and scheduler tests.
type stubExec struct {
	typ   string
	err   error
	calls atomic.Int32
}

func (s *stubExec) Type() string { return s.typ }

func (s *stubExec) Validate(map[string]any) error { return nil }

func (s *stubExec) Execute(ctx context.Context, a action.Action, ev *event.Event) (map[string]any, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"type": s.typ, "status": "done"}, nil
}

type engineFixture struct {
	engine *Engine
	store  *MemoryStore
	ok     *stubExec
	bad    *stubExec
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	reg := action.NewRegistry()
	ok := &stubExec{typ: "ok_action"}
	bad := &stubExec{typ: "bad_action", err: errors.New("downstream unavailable")}
	reg.Register(ok)
	reg.Register(bad)

	store := NewMemoryStore()
	engine := NewEngine(store, store, action.NewRunner(reg, nil), nil)
	return &engineFixture{engine: engine, store: store, ok: ok, bad: bad}
}

func eventRule(tenantID uuid.UUID, eventType string, actions ...action.Action) *Rule {
	return &Rule{
		TenantID: tenantID,
		Name:     "test rule",
		Enabled:  true,
		Trigger:  Trigger{Type: TriggerEvent, EventType: eventType},
		Actions:  actions,
	}
}

func triggerEvent(t *testing.T, tenantID uuid.UUID, eventType string, data map[string]any) *event.Event {
	t.Helper()
	ev, err := event.New(eventType, "product", uuid.New(), tenantID, nil, event.Metadata{
		Source:         "product_service",
		AdditionalData: data,
	})
	if err != nil {
		t.Fatalf("building event: %v", err)
	}
	return ev
}

func TestExecuteRuleDisabledIsSkipped(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()
	rule := eventRule(tenantID, "product.created", action.Action{Type: "ok_action"})
	rule.Enabled = false
	f.store.PutRule(rule)

	exec, err := f.engine.ExecuteRule(context.Background(), rule, triggerEvent(t, tenantID, "product.created", nil))
	if err != nil {
		t.Fatalf("ExecuteRule: %v", err)
	}
	if exec.Status != StatusSkipped {
		t.Errorf("status = %q, want %q", exec.Status, StatusSkipped)
	}
	if exec.Result["reason"] != "rule_disabled" {
		t.Errorf("reason = %v, want rule_disabled", exec.Result["reason"])
	}
	if f.ok.calls.Load() != 0 {
		t.Errorf("disabled rule ran actions: %d calls", f.ok.calls.Load())
	}
}

func TestExecuteRuleConditionNotMet(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()
	rule := eventRule(tenantID, "product.created", action.Action{Type: "ok_action"})
	rule.Conditions = []Condition{
		{Field: "metadata.additional_data.stock.quantity", Operator: "<", Value: 10},
	}
	f.store.PutRule(rule)

	ev := triggerEvent(t, tenantID, "product.created", map[string]any{
		"stock": map[string]any{"quantity": float64(50)},
	})
	exec, err := f.engine.ExecuteRule(context.Background(), rule, ev)
	if err != nil {
		t.Fatalf("ExecuteRule: %v", err)
	}
	if exec.Status != StatusConditionNotMet {
		t.Errorf("status = %q, want %q", exec.Status, StatusConditionNotMet)
	}
	if f.ok.calls.Load() != 0 {
		t.Errorf("unmet conditions ran actions: %d calls", f.ok.calls.Load())
	}
}

func TestExecuteRuleStatuses(t *testing.T) {
	tests := []struct {
		name    string
		actions []action.Action
		want    ExecutionStatus
	}{
		{"all succeed", []action.Action{{Type: "ok_action"}, {Type: "ok_action"}}, StatusSuccess},
		{"all fail", []action.Action{{Type: "bad_action"}}, StatusFailed},
		{"mixed", []action.Action{{Type: "ok_action"}, {Type: "bad_action"}}, StatusPartial},
		{"unknown type", []action.Action{{Type: "send_fax"}}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			tenantID := uuid.New()
			rule := eventRule(tenantID, "product.created", tt.actions...)
			f.store.PutRule(rule)

			exec, err := f.engine.ExecuteRule(context.Background(), rule, triggerEvent(t, tenantID, "product.created", nil))
			if err != nil {
				t.Fatalf("ExecuteRule: %v", err)
			}
			if exec.Status != tt.want {
				t.Errorf("status = %q, want %q", exec.Status, tt.want)
			}
			if exec.Status == StatusFailed && exec.ErrorMessage == "" {
				t.Error("failed execution should carry an error message")
			}
			if got := exec.Result["actions_executed"]; got != len(tt.actions) {
				t.Errorf("actions_executed = %v, want %d", got, len(tt.actions))
			}
		})
	}
}

func TestExecuteRuleUnknownActionDoesNotPanic(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()
	rule := eventRule(tenantID, "product.created", action.Action{Type: "send_fax"})
	f.store.PutRule(rule)

	exec, err := f.engine.ExecuteRule(context.Background(), rule, triggerEvent(t, tenantID, "product.created", nil))
	if err != nil {
		t.Fatalf("ExecuteRule: %v", err)
	}
	results, ok := exec.Result["results"].([]action.Result)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v, want one entry", exec.Result["results"])
	}
	if results[0].Success {
		t.Error("unknown action type should yield a failed result")
	}
	if results[0].Error == "" {
		t.Error("failed result should carry the error text")
	}
}

func TestExecuteRuleRecordsExecution(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()
	rule := eventRule(tenantID, "product.created", action.Action{Type: "ok_action"})
	f.store.PutRule(rule)

	ev := triggerEvent(t, tenantID, "product.created", nil)
	if _, err := f.engine.ExecuteRule(context.Background(), rule, ev); err != nil {
		t.Fatalf("ExecuteRule: %v", err)
	}

	execs := f.store.ExecutionsForRule(rule.ID)
	if len(execs) != 1 {
		t.Fatalf("recorded %d executions, want 1", len(execs))
	}
	if execs[0].EventID == nil || *execs[0].EventID != ev.ID {
		t.Error("execution should reference the triggering event")
	}
}

func TestProcessEventMatchesTenantAndType(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()

	matching := f.store.PutRule(eventRule(tenantID, "product.created", action.Action{Type: "ok_action"}))
	f.store.PutRule(eventRule(tenantID, "order.completed", action.Action{Type: "ok_action"}))
	f.store.PutRule(eventRule(uuid.New(), "product.created", action.Action{Type: "ok_action"}))

	execs, err := f.engine.ProcessEvent(context.Background(), triggerEvent(t, tenantID, "product.created", nil))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("ran %d rules, want 1", len(execs))
	}
	if execs[0].RuleID != matching.ID {
		t.Errorf("ran rule %s, want %s", execs[0].RuleID, matching.ID)
	}
}

func TestProcessEventRuleFailureDoesNotStopOthers(t *testing.T) {
	f := newEngineFixture(t)
	tenantID := uuid.New()
	f.store.PutRule(eventRule(tenantID, "product.created", action.Action{Type: "bad_action"}))
	f.store.PutRule(eventRule(tenantID, "product.created", action.Action{Type: "ok_action"}))

	execs, err := f.engine.ProcessEvent(context.Background(), triggerEvent(t, tenantID, "product.created", nil))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("ran %d rules, want 2", len(execs))
	}
	if f.ok.calls.Load() != 1 {
		t.Errorf("healthy rule did not run after failing one: %d calls", f.ok.calls.Load())
	}
}

func TestExecuteManualSynthesizesEvent(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.store.PutRule(eventRule(uuid.New(), "product.created", action.Action{Type: "ok_action"}))

	exec, err := f.engine.ExecuteManual(context.Background(), rule.ID, nil)
	if err != nil {
		t.Fatalf("ExecuteManual: %v", err)
	}
	if exec.Status != StatusSuccess {
		t.Errorf("status = %q, want %q", exec.Status, StatusSuccess)
	}
	if exec.EventID == nil {
		t.Error("manual execution should carry the synthetic event's ID")
	}
}

func TestExecuteManualUnknownRule(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.ExecuteManual(context.Background(), uuid.New(), nil); err == nil {
		t.Error("unknown rule should be an error")
	}
}

// notifyRecorder captures notification requests for the end-to-end test.
type notifyRecorder struct {
	reqs chan action.NotificationRequest
}

func (n *notifyRecorder) Notify(ctx context.Context, req action.NotificationRequest) error {
	n.reqs <- req
	return nil
}

// TestLowStockScenario runs a product.created event with low stock through
// the engine: the rule's condition on the nested quantity holds and the
// notification action fires with the event's payload.
func TestLowStockScenario(t *testing.T) {
	reg := action.NewRegistry()
	recorder := &notifyRecorder{reqs: make(chan action.NotificationRequest, 1)}
	reg.Register(action.NewNotification(recorder))

	store := NewMemoryStore()
	tenantID := uuid.New()
	rule := store.PutRule(&Rule{
		TenantID: tenantID,
		Name:     "low stock alert",
		Enabled:  true,
		Trigger:  Trigger{Type: TriggerEvent, EventType: "product.created"},
		Conditions: []Condition{
			{Field: "metadata.additional_data.stock.quantity", Operator: "<", Value: 10},
		},
		Actions: []action.Action{{
			Type: "notification",
			Params: map[string]any{
				"template":   "low_stock",
				"recipients": []any{"ops@example.com"},
			},
		}},
	})

	engine := NewEngine(store, store, action.NewRunner(reg, nil), nil)
	ev := triggerEvent(t, tenantID, "product.created", map[string]any{
		"stock": map[string]any{"quantity": float64(5)},
	})

	execs, err := engine.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != StatusSuccess {
		t.Fatalf("executions = %+v, want one success", execs)
	}

	select {
	case req := <-recorder.reqs:
		if req.Template != "low_stock" {
			t.Errorf("template = %q, want low_stock", req.Template)
		}
		if len(req.Recipients) != 1 || req.Recipients[0] != "ops@example.com" {
			t.Errorf("recipients = %v", req.Recipients)
		}
		if req.TenantID != tenantID.String() {
			t.Errorf("tenant = %q, want %q", req.TenantID, tenantID)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never reached the sink")
	}

	if got := store.ExecutionsForRule(rule.ID); len(got) != 1 {
		t.Errorf("recorded %d executions, want 1", len(got))
	}
}
