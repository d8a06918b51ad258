package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/action"
)

// TriggerType discriminates what makes a rule eligible for evaluation.
type TriggerType string

const (
	// TriggerEvent fires the rule on a matching bus event.
	TriggerEvent TriggerType = "event"
	// TriggerTime fires the rule on a schedule.
	TriggerTime TriggerType = "time"
)

// Schedule configures a time trigger.
type Schedule struct {
	// Type is "interval" or "once". Cron expressions are reserved but not
	// implemented.
	Type      string    `json:"type" yaml:"type"`
	Seconds   int       `json:"seconds,omitempty" yaml:"seconds"`
	ExecuteAt time.Time `json:"execute_at,omitempty" yaml:"execute_at"`
}

// Trigger is the condition that makes a rule eligible.
type Trigger struct {
	Type      TriggerType `json:"type" yaml:"type"`
	EventType string      `json:"event_type,omitempty" yaml:"event_type"`
	Schedule  *Schedule   `json:"schedule,omitempty" yaml:"schedule"`
}

// Condition is a single boolean test over a dotted field path into an event.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Rule binds a trigger, conditions, and actions for one tenant. The engine
// only reads rules; their persistence lives outside this subsystem.
type Rule struct {
	ID          uuid.UUID       `json:"id" yaml:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" yaml:"tenant_id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Trigger     Trigger         `json:"trigger" yaml:"trigger"`
	Conditions  []Condition     `json:"conditions,omitempty" yaml:"conditions"`
	Actions     []action.Action `json:"actions" yaml:"actions"`
}

// ExecutionStatus classifies one rule-evaluation attempt.
type ExecutionStatus string

const (
	StatusSuccess         ExecutionStatus = "success"
	StatusPartial         ExecutionStatus = "partial"
	StatusFailed          ExecutionStatus = "failed"
	StatusSkipped         ExecutionStatus = "skipped"
	StatusConditionNotMet ExecutionStatus = "condition_not_met"
)

// Execution is the recorded outcome of one (rule, event) evaluation attempt.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	RuleID       uuid.UUID       `json:"rule_id"`
	EventID      *uuid.UUID      `json:"event_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Result       map[string]any  `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// RuleSource is the read side of the external rule store.
type RuleSource interface {
	// Rule returns a rule by ID, or an error when it does not exist.
	Rule(ctx context.Context, id uuid.UUID) (*Rule, error)
	// RulesForEvent returns the enabled event-triggered rules of a tenant
	// whose trigger event type matches.
	RulesForEvent(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Rule, error)
}

// ExecutionStore is the write side: one record per evaluation attempt.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *Execution) error
}

// ValidateRule checks the structural soundness of a rule: trigger shape,
// known condition operators, and per-action param validation against the
// registry.
func ValidateRule(r *Rule, reg *action.Registry) error {
	if r.TenantID == uuid.Nil {
		return fmt.Errorf("rule %q: tenant_id is required", r.Name)
	}
	switch r.Trigger.Type {
	case TriggerEvent:
		if r.Trigger.EventType == "" {
			return fmt.Errorf("rule %q: event trigger needs event_type", r.Name)
		}
	case TriggerTime:
		if r.Trigger.Schedule == nil {
			return fmt.Errorf("rule %q: time trigger needs a schedule", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown trigger type %q", r.Name, r.Trigger.Type)
	}
	for _, c := range r.Conditions {
		if !knownOperator(c.Operator) {
			return fmt.Errorf("rule %q: unknown condition operator %q", r.Name, c.Operator)
		}
		if c.Field == "" {
			return fmt.Errorf("rule %q: condition field is required", r.Name)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %q: at least one action is required", r.Name)
	}
	for _, a := range r.Actions {
		exec, err := reg.Get(a.Type)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if err := exec.Validate(a.Params); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}
