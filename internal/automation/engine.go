package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/action"
	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/metrics"
)

// Engine orchestrates condition evaluation and action execution per
// (rule, event) pair and records one Execution per attempt. The same entry
// point serves bus-triggered and manual runs; the engine does not
// distinguish them.
type Engine struct {
	rules      RuleSource
	executions ExecutionStore
	runner     *action.Runner
	log        *slog.Logger
}

// NewEngine wires the engine to its collaborators.
func NewEngine(rules RuleSource, executions ExecutionStore, runner *action.Runner, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{rules: rules, executions: executions, runner: runner, log: log}
}

// ExecuteRule evaluates one rule against one event and records the outcome.
// The returned Execution is always populated; the error only reports a
// failure to persist it.
func (e *Engine) ExecuteRule(ctx context.Context, rule *Rule, ev *event.Event) (*Execution, error) {
	exec := &Execution{
		ID:         uuid.New(),
		RuleID:     rule.ID,
		ExecutedAt: time.Now().UTC(),
	}
	if ev != nil {
		id := ev.ID
		exec.EventID = &id
	}

	switch {
	case !rule.Enabled:
		exec.Status = StatusSkipped
		exec.Result = map[string]any{"reason": "rule_disabled"}
	case !EvaluateConditions(rule.Conditions, ev):
		exec.Status = StatusConditionNotMet
		exec.Result = map[string]any{"reason": "conditions_not_met"}
	default:
		report := e.runner.Execute(ctx, rule.Actions, ev)
		exec.Status = statusFor(report)
		exec.Result = map[string]any{
			"actions_executed": report.ActionsExecuted,
			"results":          report.Results,
		}
		if exec.Status == StatusFailed {
			exec.ErrorMessage = firstError(report)
		}
	}

	metrics.RulesEvaluated.WithLabelValues(string(exec.Status)).Inc()
	e.log.Debug("executed rule",
		"rule_id", rule.ID, "rule_name", rule.Name, "status", exec.Status)

	if err := e.executions.SaveExecution(ctx, exec); err != nil {
		return exec, fmt.Errorf("save execution for rule %s: %w", rule.ID, err)
	}
	return exec, nil
}

// ProcessEvent fans one event out to every matching event-triggered rule of
// the event's tenant. A failing rule does not stop the rest; the error
// reports rule loading or persistence failures so the bus layer can retry.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.Event) ([]*Execution, error) {
	rules, err := e.rules.RulesForEvent(ctx, ev.TenantID, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("load rules for event %s: %w", ev.ID, err)
	}

	var execs []*Execution
	var firstErr error
	for _, rule := range rules {
		exec, err := e.ExecuteRule(ctx, rule, ev)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if exec != nil {
			execs = append(execs, exec)
		}
	}
	return execs, firstErr
}

// ExecuteManual runs a rule outside the bus, with a caller-supplied
// synthetic event or a generated one.
func (e *Engine) ExecuteManual(ctx context.Context, ruleID uuid.UUID, ev *event.Event) (*Execution, error) {
	rule, err := e.rules.Rule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		ev, err = event.New("automation.manual", "rule", rule.ID, rule.TenantID, nil, event.Metadata{
			Source: "automation_engine",
		})
		if err != nil {
			return nil, err
		}
	}
	return e.ExecuteRule(ctx, rule, ev)
}

func statusFor(report *action.Report) ExecutionStatus {
	ok := report.Succeeded()
	switch {
	case len(report.Results) == 0 || ok == len(report.Results):
		return StatusSuccess
	case ok == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func firstError(report *action.Report) string {
	for _, r := range report.Results {
		if !r.Success {
			return r.Error
		}
	}
	return ""
}
