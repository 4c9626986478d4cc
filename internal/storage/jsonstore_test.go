package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	store, err := NewJSONStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(testDoc{Name: "alpha", Count: 3}))

	var got testDoc
	loaded, err := store.Load(&got)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, testDoc{Name: "alpha", Count: 3}, got)
}

func TestJSONStoreMissingFile(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	var got testDoc
	loaded, err := store.Load(&got)
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestJSONStoreUpdate(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "doc.json"))
	require.NoError(t, err)

	var doc testDoc
	err = store.Update(&doc, func(loaded bool) (interface{}, error) {
		assert.False(t, loaded)
		doc.Count = 1
		return doc, nil
	})
	require.NoError(t, err)

	err = store.Update(&doc, func(loaded bool) (interface{}, error) {
		assert.True(t, loaded)
		doc.Count++
		return doc, nil
	})
	require.NoError(t, err)

	var got testDoc
	_, err = store.Load(&got)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}

func TestJSONStoreAtomicRewrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(filepath.Join(dir, "doc.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(testDoc{Name: "a"}))
	require.NoError(t, store.Save(testDoc{Name: "b"}))

	// No temp files should survive a completed save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
