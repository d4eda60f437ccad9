// Package filestore is an append-only memory.Store backend: every mutation
// is one JSON line appended to a log file and fsynced before Add/Delete/Clear
// return, so a crash never loses an acknowledged write. An in-memory index
// mirrors the log's replayed state for fast reads.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/agentdag/agentdag/internal/memory"
)

type recordOp string

const (
	opPut   recordOp = "put"
	opDel   recordOp = "del"
	opClear recordOp = "clear"
)

type record struct {
	Op   recordOp    `json:"op"`
	ID   string      `json:"id,omitempty"`
	Item memory.Item `json:"item,omitempty"`
}

// Store is a durable, append-only memory.Store backed by a single file.
type Store struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	index map[string]memory.Item
	order []string
}

// Open creates or reopens the log at path, replaying it to rebuild the
// in-memory index.
func Open(path string) (*Store, error) {
	s := &Store{path: path, index: make(map[string]memory.Item)}
	if err := s.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case opPut:
			if _, exists := s.index[rec.Item.ID]; !exists {
				s.order = append(s.order, rec.Item.ID)
			}
			s.index[rec.Item.ID] = rec.Item
		case opDel:
			delete(s.index, rec.ID)
			s.removeFromOrder(rec.ID)
		case opClear:
			s.index = make(map[string]memory.Item)
			s.order = nil
		}
	}
	return scanner.Err()
}

func (s *Store) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) appendRecord(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Store) Add(_ context.Context, item memory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRecord(record{Op: opPut, Item: item}); err != nil {
		return err
	}
	if _, exists := s.index[item.ID]; !exists {
		s.order = append(s.order, item.ID)
	}
	s.index[item.ID] = item
	return nil
}

func (s *Store) Get(_ context.Context, id string) (memory.Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.index[id]
	return item, ok, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendRecord(record{Op: opDel, ID: id}); err != nil {
		return err
	}
	delete(s.index, id)
	s.removeFromOrder(id)
	return nil
}

func (s *Store) Query(_ context.Context, q memory.Query) ([]memory.Item, error) {
	s.mu.Lock()
	matched := make([]memory.Item, 0, len(s.order))
	for _, id := range s.order {
		item := s.index[id]
		ok := true
		for _, f := range q.Filters {
			if !f.Matches(item) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, item)
		}
	}
	s.mu.Unlock()

	if q.OrderBy == "importance" || q.OrderBy == "timestamp" {
		key := func(it memory.Item) float64 {
			if q.OrderBy == "importance" {
				return it.Importance
			}
			return float64(it.Timestamp.UnixNano())
		}
		sort.SliceStable(matched, func(i, j int) bool {
			if q.Descending {
				return key(matched[i]) > key(matched[j])
			}
			return key(matched[i]) < key(matched[j])
		})
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Store) ListAll(ctx context.Context) ([]memory.Item, error) {
	return s.Query(ctx, memory.Query{})
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendRecord(record{Op: opClear}); err != nil {
		return err
	}
	s.index = make(map[string]memory.Item)
	s.order = nil
	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var _ memory.Store = (*Store)(nil)
