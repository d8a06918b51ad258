package automation

import (
	"fmt"
	"math"
	"strings"

	"github.com/harmonia-erp/pulse/internal/event"
)

// Condition evaluation is fail-closed throughout: an unresolvable path, a
// type mismatch, or an unknown operator makes the condition false, never an
// error. All conditions in a rule are ANDed; there is no OR or grouping in
// this version, a deliberate simplicity boundary.

const (
	opEq       = "=="
	opNeq      = "!="
	opGt       = ">"
	opGte      = ">="
	opLt       = "<"
	opLte      = "<="
	opIn       = "in"
	opContains = "contains"
)

func knownOperator(op string) bool {
	switch op {
	case opEq, opNeq, opGt, opGte, opLt, opLte, opIn, opContains:
		return true
	}
	return false
}

// EvaluateConditions returns whether every condition holds for the event.
// An empty list is vacuously true.
func EvaluateConditions(conditions []Condition, ev *event.Event) bool {
	if ev == nil {
		return len(conditions) == 0
	}
	for _, c := range conditions {
		if !evaluateOne(c, ev) {
			return false
		}
	}
	return true
}

func evaluateOne(c Condition, ev *event.Event) bool {
	left, ok := resolvePath(ev, strings.Split(c.Field, "."))
	if !ok {
		return false
	}
	switch c.Operator {
	case opEq:
		return looseEqual(left, c.Value)
	case opNeq:
		return !looseEqual(left, c.Value)
	case opGt, opGte, opLt, opLte:
		return orderedCompare(c.Operator, left, c.Value)
	case opIn:
		return inList(left, c.Value)
	case opContains:
		return containsValue(left, c.Value)
	}
	return false
}

// resolvePath resolves a dotted path first against the event's top-level
// attributes, then descends into the open metadata.additional_data tree.
func resolvePath(ev *event.Event, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "event_id":
		return single(ev.ID.String(), path)
	case "event_type":
		return single(ev.Type, path)
	case "entity_type":
		return single(ev.EntityType, path)
	case "entity_id":
		return single(ev.EntityID.String(), path)
	case "tenant_id":
		return single(ev.TenantID.String(), path)
	case "user_id":
		if ev.UserID == nil {
			return single("", path)
		}
		return single(ev.UserID.String(), path)
	case "timestamp":
		return single(ev.Timestamp, path)
	case "metadata":
		return resolveMetadata(ev, path[1:])
	}
	return nil, false
}

// single rejects paths that keep descending past a scalar attribute.
func single(v any, path []string) (any, bool) {
	if len(path) != 1 {
		return nil, false
	}
	return v, true
}

func resolveMetadata(ev *event.Event, rest []string) (any, bool) {
	if len(rest) == 0 {
		return nil, false
	}
	switch rest[0] {
	case "source":
		return single(ev.Metadata.Source, rest)
	case "version":
		return single(ev.Metadata.Version, rest)
	case "additional_data":
		return walkTree(ev.Metadata.AdditionalData, rest[1:])
	}
	return nil, false
}

// walkTree descends a string-keyed value tree segment by segment. JSON
// decoding yields map[string]any nodes; anything else ends the walk.
func walkTree(node any, path []string) (any, bool) {
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// looseEqual compares numeric values by value and everything else by its
// string form, so wire-decoded numbers match literal ints.
func looseEqual(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
		return false
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

// orderedCompare applies > < >= <= numerically when both sides are numeric,
// lexicographically when both are strings. Mixed types are false.
func orderedCompare(op string, left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case opGt:
			return lf > rf
		case opGte:
			return lf >= rf
		case opLt:
			return lf < rf
		case opLte:
			return lf <= rf
		}
		return false
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return false
	}
	switch op {
	case opGt:
		return ls > rs
	case opGte:
		return ls >= rs
	case opLt:
		return ls < rs
	case opLte:
		return ls <= rs
	}
	return false
}

// inList checks membership of left in the condition's literal list value.
func inList(left, right any) bool {
	switch list := right.(type) {
	case []any:
		for _, item := range list {
			if looseEqual(left, item) {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if looseEqual(left, item) {
				return true
			}
		}
	}
	return false
}

// containsValue is substring containment for strings and membership for
// list-valued fields.
func containsValue(left, right any) bool {
	switch l := left.(type) {
	case string:
		return strings.Contains(l, fmt.Sprint(right))
	case []any:
		for _, item := range l {
			if looseEqual(item, right) {
				return true
			}
		}
	}
	return false
}
