package action

import (
	"context"
	"log/slog"

	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/metrics"
)

// Runner executes a rule's action list sequentially with per-action failure
// isolation: an unknown type or a failing executor yields a failed Result
// and execution moves on to the next action.
type Runner struct {
	registry *Registry
	log      *slog.Logger
}

// NewRunner creates a Runner over a registry.
func NewRunner(reg *Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{registry: reg, log: log}
}

// Execute runs every action against the triggering event. Partial success
// is a valid outcome; the report records each action's result.
func (r *Runner) Execute(ctx context.Context, actions []Action, ev *event.Event) *Report {
	report := &Report{
		ActionsExecuted: len(actions),
		Results:         make([]Result, 0, len(actions)),
	}
	for _, a := range actions {
		report.Results = append(report.Results, r.runOne(ctx, a, ev))
	}
	return report
}

func (r *Runner) runOne(ctx context.Context, a Action, ev *event.Event) Result {
	exec, err := r.registry.Get(a.Type)
	if err != nil {
		metrics.ActionsExecuted.WithLabelValues(a.Type, "error").Inc()
		return Result{Action: a, Success: false, Error: err.Error()}
	}
	output, err := exec.Execute(ctx, a, ev)
	if err != nil {
		metrics.ActionsExecuted.WithLabelValues(a.Type, "error").Inc()
		r.log.Error("action failed",
			"action_type", a.Type, "event_id", ev.ID, "err", err)
		return Result{Action: a, Success: false, Error: err.Error()}
	}
	metrics.ActionsExecuted.WithLabelValues(a.Type, "success").Inc()
	return Result{Action: a, Success: true, Output: output}
}
