package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentdag/agentdag/internal/memory"
)

func TestAddGetPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, memory.Item{ID: "a", Kind: "fact", Importance: 0.6}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	item, ok, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fact", item.Kind)
}

func TestDeleteRemovesItem(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, memory.Item{ID: "a"}))
	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueryOrdersByImportanceDescending(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, memory.Item{ID: "low", Importance: 0.2}))
	require.NoError(t, s.Add(ctx, memory.Item{ID: "high", Importance: 0.9}))
	require.NoError(t, s.Add(ctx, memory.Item{ID: "mid", Importance: 0.5}))

	results, err := s.Query(ctx, memory.Query{OrderBy: "importance", Descending: true})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "high", results[0].ID)
	require.Equal(t, "mid", results[1].ID)
	require.Equal(t, "low", results[2].ID)
}

func TestClearEmptiesBucket(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, memory.Item{ID: "a"}))
	require.NoError(t, s.Add(ctx, memory.Item{ID: "b"}))
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
