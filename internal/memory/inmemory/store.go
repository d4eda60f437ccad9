// Package inmemory is the default memory.Store backend: a mutex-guarded
// map, optionally bounded with count-based eviction of the lowest-importance,
// oldest items.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/agentdag/agentdag/internal/memory"
)

// Store is a process-local, mutex-guarded implementation of memory.Store.
type Store struct {
	mu       sync.RWMutex
	items    map[string]memory.Item
	order    []string // insertion order, for stable default iteration
	maxItems int       // 0 = unbounded
}

// New constructs a Store. maxItems <= 0 means unbounded (task/global tiers
// default to this; the project tier is configured with a positive bound).
func New(maxItems int) *Store {
	return &Store{items: make(map[string]memory.Item), maxItems: maxItems}
}

func (s *Store) Add(_ context.Context, item memory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item

	if s.maxItems > 0 && len(s.items) > s.maxItems {
		s.evictLocked()
	}
	return nil
}

// evictLocked drops the lowest-importance, oldest items until the store is
// back at its configured maximum. Caller must hold s.mu.
func (s *Store) evictLocked() {
	type candidate struct {
		id         string
		importance float64
		insertIdx  int
	}
	candidates := make([]candidate, 0, len(s.order))
	for idx, id := range s.order {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{id: id, importance: item.Importance, insertIdx: idx})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].importance != candidates[j].importance {
			return candidates[i].importance < candidates[j].importance
		}
		return candidates[i].insertIdx < candidates[j].insertIdx
	})

	toDrop := len(s.items) - s.maxItems
	dropped := make(map[string]struct{}, toDrop)
	for i := 0; i < toDrop && i < len(candidates); i++ {
		dropped[candidates[i].id] = struct{}{}
		delete(s.items, candidates[i].id)
	}

	newOrder := s.order[:0:0]
	for _, id := range s.order {
		if _, isDropped := dropped[id]; !isDropped {
			newOrder = append(newOrder, id)
		}
	}
	s.order = newOrder
}

func (s *Store) Get(_ context.Context, id string) (memory.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Query(_ context.Context, q memory.Query) ([]memory.Item, error) {
	s.mu.RLock()
	matched := make([]memory.Item, 0, len(s.order))
	for _, id := range s.order {
		item := s.items[id]
		if matchesAll(item, q.Filters) {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sortItems(matched, q.OrderBy, q.Descending)

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Store) ListAll(ctx context.Context) ([]memory.Item, error) {
	return s.Query(ctx, memory.Query{})
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]memory.Item)
	s.order = nil
	return nil
}

func matchesAll(item memory.Item, filters []memory.Filter) bool {
	for _, f := range filters {
		if !f.Matches(item) {
			return false
		}
	}
	return true
}

func sortItems(items []memory.Item, orderBy string, descending bool) {
	switch orderBy {
	case "importance":
		sort.SliceStable(items, func(i, j int) bool {
			if descending {
				return items[i].Importance > items[j].Importance
			}
			return items[i].Importance < items[j].Importance
		})
	case "timestamp":
		sort.SliceStable(items, func(i, j int) bool {
			if descending {
				return items[i].Timestamp.After(items[j].Timestamp)
			}
			return items[i].Timestamp.Before(items[j].Timestamp)
		})
	}
}

var _ memory.Store = (*Store)(nil)
