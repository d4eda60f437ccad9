// Package memory defines the three-tier store contract every memory
// backend (in-memory, append-only file, boltdb-indexed) implements
// identically: add/get/delete/query/list_all/count/clear.
package memory

import (
	"context"
	"time"
)

// Tier is the scope of a memory store.
type Tier string

const (
	TierTask    Tier = "task"
	TierProject Tier = "project"
	TierGlobal  Tier = "global"
)

// Item is one retrievable fact. Items are added explicitly; they are never
// auto-promoted between tiers.
type Item struct {
	ID         string
	Tier       Tier
	Kind       string
	Source     string
	Timestamp  time.Time
	Tags       []string
	Importance float64
	TokenCost  int
	Payload    map[string]interface{}
}

// Op is a filter comparison operator.
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpIn           Op = "in"
)

// Filter is one predicate over an Item field. Field names the built-in
// fields (kind, importance, tier, source) or a tag via "tag:<name>".
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query selects and orders a subset of a store's items.
type Query struct {
	Filters    []Filter
	OrderBy    string // "importance" | "timestamp"; empty = backend order (insertion order for inmemory/filestore, key order for boltstore)
	Descending bool
	Limit      int
}

// Store is the tier-agnostic contract every memory backend implements. All
// writes are durable on return — there's no separate flush step.
type Store interface {
	Add(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, bool, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) ([]Item, error)
	ListAll(ctx context.Context) ([]Item, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Matches reports whether item satisfies f.
func (f Filter) Matches(item Item) bool {
	actual, ok := fieldValue(item, f.Field)
	if !ok {
		return false
	}
	return compare(actual, f.Op, f.Value)
}

func fieldValue(item Item, field string) (interface{}, bool) {
	switch {
	case field == "kind":
		return item.Kind, true
	case field == "tier":
		return string(item.Tier), true
	case field == "source":
		return item.Source, true
	case field == "importance":
		return item.Importance, true
	case field == "token_cost":
		return item.TokenCost, true
	case len(field) > 4 && field[:4] == "tag:":
		name := field[4:]
		for _, tag := range item.Tags {
			if tag == name {
				return true, true
			}
		}
		return false, true
	default:
		return nil, false
	}
}

func compare(actual interface{}, op Op, expected interface{}) bool {
	if op == OpIn {
		list, ok := expected.([]string)
		if !ok {
			return false
		}
		s, ok := actual.(string)
		if !ok {
			return false
		}
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	}

	switch a := actual.(type) {
	case string:
		b, ok := expected.(string)
		if !ok {
			return false
		}
		return compareOrdered(a, b, op)
	case bool:
		b, ok := expected.(bool)
		if !ok {
			return false
		}
		if op == OpEqual {
			return a == b
		}
		if op == OpNotEqual {
			return a != b
		}
		return false
	case float64:
		b, ok := toFloat(expected)
		if !ok {
			return false
		}
		return compareOrdered(a, b, op)
	case int:
		b, ok := toFloat(expected)
		if !ok {
			return false
		}
		return compareOrdered(float64(a), b, op)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

type ordered interface {
	~string | ~float64
}

func compareOrdered[T ordered](a, b T, op Op) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	default:
		return false
	}
}
