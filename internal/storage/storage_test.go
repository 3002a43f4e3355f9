package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestPutAndGet(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	doc := testDoc{ID: "123", Name: "test", Value: 42}
	require.NoError(t, s.Put(ctx, []string{"items", "item1"}, doc))

	var got testDoc
	require.NoError(t, s.Get(ctx, []string{"items", "item1"}, &got))
	assert.Equal(t, doc, got)
}

func TestGetNotFound(t *testing.T) {
	s := New(t.TempDir())
	var doc testDoc
	err := s.Get(context.Background(), []string{"missing", "doc"}, &doc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReadModifyWrite(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"items", "counter"}, testDoc{ID: "c", Value: 1}))

	var doc testDoc
	err := s.Update(ctx, []string{"items", "counter"}, &doc, func() error {
		doc.Value++
		return nil
	})
	require.NoError(t, err)

	var got testDoc
	require.NoError(t, s.Get(ctx, []string{"items", "counter"}, &got))
	assert.Equal(t, 2, got.Value)
}

func TestUpdateMissingStartsFromZero(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	var doc testDoc
	err := s.Update(ctx, []string{"items", "fresh"}, &doc, func() error {
		assert.Zero(t, doc)
		doc.ID = "fresh"
		return nil
	})
	require.NoError(t, err)
	assert.True(t, s.Exists(ctx, []string{"items", "fresh"}))
}

func TestDeleteIdempotent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"items", "doomed"}, testDoc{ID: "d"}))
	require.NoError(t, s.Delete(ctx, []string{"items", "doomed"}))

	var doc testDoc
	assert.ErrorIs(t, s.Get(ctx, []string{"items", "doomed"}, &doc), ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, []string{"items", "doomed"}))
}

func TestListAndScan(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, []string{"items", id}, testDoc{ID: id}))
	}

	keys, err := s.List(ctx, []string{"items"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

	empty, err := s.List(ctx, []string{"nowhere"})
	require.NoError(t, err)
	assert.Empty(t, empty)

	seen := map[string]string{}
	err = s.Scan(ctx, []string{"items"}, func(key string, data json.RawMessage) error {
		var doc testDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		seen[key] = doc.ID
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Equal(t, "b", seen["b"])
}

func TestConcurrentPuts(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, []string{"items", "shared"}, testDoc{ID: "shared", Value: val}))
		}(i)
	}
	wg.Wait()

	// The winner is arbitrary but the file must be intact JSON.
	var got testDoc
	require.NoError(t, s.Get(ctx, []string{"items", "shared"}, &got))
	assert.Equal(t, "shared", got.ID)

	// No temp file survives a completed write.
	_, err := os.Stat(filepath.Join(dir, "items", "shared.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}
