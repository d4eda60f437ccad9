// Package boltstore is a single-file indexed memory.Store backend built on
// github.com/boltdb/bolt. Every mutation runs inside a bolt transaction, so
// writes are durable on return without a separate flush step.
package boltstore

import (
	"context"
	"encoding/json"

	"github.com/boltdb/bolt"

	"github.com/agentdag/agentdag/internal/memory"
)

var itemsBucket = []byte("items")

// Store is a memory.Store backed by a bolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(itemsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(_ context.Context, item memory.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Put([]byte(item.ID), data)
	})
}

func (s *Store) Get(_ context.Context, id string) (memory.Item, bool, error) {
	var item memory.Item
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(itemsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &item)
	})
	return item, found, err
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).Delete([]byte(id))
	})
}

func (s *Store) Query(_ context.Context, q memory.Query) ([]memory.Item, error) {
	var matched []memory.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(_, data []byte) error {
			var item memory.Item
			if err := json.Unmarshal(data, &item); err != nil {
				return err
			}
			for _, f := range q.Filters {
				if !f.Matches(item) {
					return nil
				}
			}
			matched = append(matched, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

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
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(itemsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(itemsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(itemsBucket)
		return err
	})
}

func sortItems(items []memory.Item, orderBy string, descending bool) {
	switch orderBy {
	case "importance":
		insertionSortBy(items, descending, func(it memory.Item) float64 { return it.Importance })
	case "timestamp":
		insertionSortBy(items, descending, func(it memory.Item) float64 { return float64(it.Timestamp.UnixNano()) })
	}
}

// insertionSortBy is a stable sort; bolt's ForEach iterates in key order so
// result sets are small enough that O(n^2) is not a concern here.
func insertionSortBy(items []memory.Item, descending bool, key func(memory.Item) float64) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			less := key(items[j]) < key(items[j-1])
			if descending {
				less = key(items[j]) > key(items[j-1])
			}
			if !less {
				break
			}
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

var _ memory.Store = (*Store)(nil)
