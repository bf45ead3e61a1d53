package connection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope", "connections.json"))
	configs, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	store := NewStore(path)

	in := []handler.Config{
		{ID: "b", Name: "second", Kind: handler.KindSQLite, Options: map[string]any{"filePath": "/tmp/b.db"}},
		{ID: "a", Name: "first", Kind: handler.KindKOSISAPI, Options: map[string]any{"api_key": "k"}},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	require.Len(t, out, 2)
	// Stable order by id.
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "k", out[0].Options["api_key"])

	// Overwrite leaves exactly the new set.
	require.NoError(t, store.Save(in[:1]))
	out, err = store.Load()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "connections.json")
	store := NewStore(path)
	require.NoError(t, store.Save(nil))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, os.WriteFile(path, []byte("{not an array"), 0o644))

	_, err := NewStore(path).Load()
	assert.Error(t, err)
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "connections.json"))
	require.NoError(t, store.Save([]handler.Config{{ID: "x", Kind: handler.KindSQLite}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "connections.json", entries[0].Name())
}
