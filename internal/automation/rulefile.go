package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/harmonia-erp/pulse/internal/action"
)

// ruleFile is the YAML document shape.
type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// FileRuleSource serves rules from a YAML file and watches it for changes.
// It implements RuleSource, so deployments can describe automation rules in
// configuration before a relational rule store exists.
type FileRuleSource struct {
	path     string
	registry *action.Registry
	log      *slog.Logger

	mu       sync.RWMutex
	rules    map[uuid.UUID]*Rule
	onChange []func([]*Rule)
	watcher  *fsnotify.Watcher
}

// NewFileRuleSource loads the file once and fails on unreadable or invalid
// rules; later reloads keep the previous snapshot instead.
func NewFileRuleSource(path string, reg *action.Registry, log *slog.Logger) (*FileRuleSource, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &FileRuleSource{path: path, registry: reg, log: log}
	rules, err := s.load()
	if err != nil {
		return nil, err
	}
	s.rules = rules
	return s, nil
}

// Rule implements RuleSource.
func (s *FileRuleSource) Rule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s not found in %s", id, s.path)
	}
	return r, nil
}

// RulesForEvent implements RuleSource.
func (s *FileRuleSource) RulesForEvent(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Rule, error) {
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

// Rules returns the current snapshot.
func (s *FileRuleSource) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// OnChange registers a callback invoked with the new snapshot after each
// successful reload (the scheduler re-registers time triggers through this).
func (s *FileRuleSource) OnChange(fn func([]*Rule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the file on changes.
// Call the returned stop function to clean up.
func (s *FileRuleSource) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rule watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("rule watcher add %s: %w", s.path, err)
	}
	s.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := s.Reload(); err != nil {
						s.log.Warn("rule reload skipped", "path", s.path, "err", err)
					}
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the rule file.
func (s *FileRuleSource) Reload() ([]*Rule, error) {
	rules, err := s.load()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.rules = rules
	callbacks := make([]func([]*Rule), len(s.onChange))
	copy(callbacks, s.onChange)
	snapshot := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		snapshot = append(snapshot, r)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
	s.log.Info("rules reloaded", "path", s.path, "count", len(snapshot))
	return snapshot, nil
}

func (s *FileRuleSource) load() (map[uuid.UUID]*Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", s.path, err)
	}
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", s.path, err)
	}
	out := make(map[uuid.UUID]*Rule, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.ID == uuid.Nil {
			r.ID = stableRuleID(r)
		}
		if err := ValidateRule(r, s.registry); err != nil {
			return nil, fmt.Errorf("rules %s: %w", s.path, err)
		}
		out[r.ID] = r
	}
	return out, nil
}

// stableRuleID derives the rule's identity from tenant and name so that a
// rule without an explicit id keeps the same ID across reloads. The scheduler
// dedupes time triggers by ID, so identity must survive a hot reload.
func stableRuleID(r *Rule) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.TenantID.String()+"/"+r.Name))
}
