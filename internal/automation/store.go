package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process RuleSource and ExecutionStore. It backs
// tests and the admin surface; durable rule storage lives outside this
// subsystem and plugs in through the same two interfaces.
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[uuid.UUID]*Rule
	executions []*Execution
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[uuid.UUID]*Rule)}
}

// PutRule inserts or replaces a rule, assigning an ID if missing.
func (s *MemoryStore) PutRule(r *Rule) *Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rules[r.ID] = r
	return r
}

// DeleteRule removes a rule; missing IDs are a no-op false.
func (s *MemoryStore) DeleteRule(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	return true
}

// Rule implements RuleSource.
func (s *MemoryStore) Rule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	return r, nil
}

// RulesForEvent implements RuleSource.
func (s *MemoryStore) RulesForEvent(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Rule
	for _, r := range s.rules {
		if r.TenantID != tenantID || !r.Enabled {
			continue
		}
		if r.Trigger.Type == TriggerEvent && r.Trigger.EventType == eventType {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rules returns every rule, for the admin surface.
func (s *MemoryStore) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// SaveExecution implements ExecutionStore.
func (s *MemoryStore) SaveExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, exec)
	return nil
}

// ExecutionsForRule returns recorded executions for one rule, oldest first.
func (s *MemoryStore) ExecutionsForRule(ruleID uuid.UUID) []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, e := range s.executions {
		if e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out
}
