package action

import (
	"context"

	"github.com/harmonia-erp/pulse/internal/event"
)

// Action is one typed side effect attached to a rule.
type Action struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
}

// Result holds the outcome of executing a single action. A failed action is
// recorded here, never raised: one action failing must not stop the rest.
type Result struct {
	Action  Action         `json:"action"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

// Report aggregates the results of one action list.
type Report struct {
	ActionsExecuted int      `json:"actions_executed"`
	Results         []Result `json:"results"`
}

// Succeeded counts successful results.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Executor is the interface all action implementations must satisfy.
type Executor interface {
	// Type returns the string key this executor is registered under.
	Type() string
	// Execute runs the action against the triggering event and returns its
	// output payload.
	Execute(ctx context.Context, a Action, ev *event.Event) (map[string]any, error)
	// Validate checks params when a rule is loaded.
	Validate(params map[string]any) error
}
