package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-erp/pulse/internal/event"
)

// Scheduler fires time-triggered rules through the engine. Each scheduled
// rule runs in its own goroutine; firing builds a synthetic
// "automation.scheduled" event so the engine contract stays uniform.
type Scheduler struct {
	engine *Engine
	log    *slog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler over the engine.
func NewScheduler(engine *Engine, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{engine: engine, log: log, cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// ScheduleRule registers a time-triggered rule. Supported schedule types
// are "interval" (fixed period) and "once" (absolute time); cron
// expressions are not implemented.
func (s *Scheduler) ScheduleRule(ctx context.Context, rule *Rule) error {
	if rule.Trigger.Type != TriggerTime || rule.Trigger.Schedule == nil {
		return fmt.Errorf("rule %s: not a time-triggered rule", rule.ID)
	}
	sched := rule.Trigger.Schedule

	runCtx, cancel := context.WithCancel(ctx)
	switch sched.Type {
	case "interval":
		if sched.Seconds <= 0 {
			cancel()
			return fmt.Errorf("rule %s: interval schedule needs positive seconds", rule.ID)
		}
		s.track(rule.ID, cancel)
		s.wg.Add(1)
		go s.runInterval(runCtx, rule, time.Duration(sched.Seconds)*time.Second)
	case "once":
		if sched.ExecuteAt.IsZero() {
			cancel()
			return fmt.Errorf("rule %s: once schedule needs execute_at", rule.ID)
		}
		s.track(rule.ID, cancel)
		s.wg.Add(1)
		go s.runOnce(runCtx, rule, sched.ExecuteAt)
	case "cron":
		cancel()
		return fmt.Errorf("rule %s: cron scheduling not implemented", rule.ID)
	default:
		cancel()
		return fmt.Errorf("rule %s: unknown schedule type %q", rule.ID, sched.Type)
	}

	s.log.Info("scheduled rule",
		"rule_id", rule.ID, "schedule_type", sched.Type)
	return nil
}

func (s *Scheduler) track(id uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.cancels[id]; ok {
		old()
	}
	s.cancels[id] = cancel
}

func (s *Scheduler) runInterval(ctx context.Context, rule *Rule, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fire(ctx, rule)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, rule *Rule, at time.Time) {
	defer s.wg.Done()
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.fire(ctx, rule)
		s.mu.Lock()
		delete(s.cancels, rule.ID)
		s.mu.Unlock()
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire(ctx context.Context, rule *Rule) {
	ev, err := event.New("automation.scheduled", "rule", rule.ID, rule.TenantID, nil, event.Metadata{
		Source: "scheduler",
		AdditionalData: map[string]any{
			"rule_id": rule.ID.String(),
		},
	})
	if err != nil {
		s.log.Error("scheduler event build failed", "rule_id", rule.ID, "err", err)
		return
	}
	if _, err := s.engine.ExecuteRule(ctx, rule, ev); err != nil {
		s.log.Error("scheduled rule execution failed", "rule_id", rule.ID, "err", err)
	}
}

// Sync reconciles the scheduler against a rule snapshot: enabled
// time-triggered rules are (re)scheduled and timers for rules no longer in
// the snapshot are cancelled. Callers use it both for initial scheduling and
// on rule reloads.
func (s *Scheduler) Sync(ctx context.Context, rules []*Rule) {
	keep := make(map[uuid.UUID]bool, len(rules))
	for _, r := range rules {
		if r.Trigger.Type != TriggerTime || !r.Enabled {
			continue
		}
		if err := s.ScheduleRule(ctx, r); err != nil {
			s.log.Warn("rule not scheduled", "rule_id", r.ID, "name", r.Name, "err", err)
			continue
		}
		keep[r.ID] = true
	}

	s.mu.Lock()
	var stale []uuid.UUID
	for id := range s.cancels {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.Unschedule(id)
		s.log.Info("unscheduled rule", "rule_id", id)
	}
}

// Unschedule stops a rule's timer if one is registered.
func (s *Scheduler) Unschedule(ruleID uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.cancels[ruleID]
	if ok {
		delete(s.cancels, ruleID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels all scheduled rules and waits for their goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("stopped scheduler")
}
