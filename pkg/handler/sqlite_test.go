package handler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, mode string) Handler {
	t.Helper()

	options := map[string]any{
		"filePath": filepath.Join(t.TempDir(), "test.db"),
	}
	if mode != "" {
		options["mode"] = mode
	}
	h, err := testFactory().Make(Config{ID: "local", Kind: KindSQLite, Options: options})
	require.NoError(t, err)
	return h
}

func seedUsers(t *testing.T, h Handler) {
	t.Helper()
	ctx := context.Background()

	res := h.Execute(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, created_at TEXT)", nil)
	require.True(t, res.Success, res.Error)

	res = h.Execute(ctx, "INSERT INTO users (name, created_at) VALUES ('amy', '2024-01-01'), ('bo', '2024-02-01')", nil)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0]["affected_rows"])
}

func TestSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newTestSQLite(t, "readwritecreate")

	// Everything except connect demands a live connection first.
	_, err := h.Schema(ctx, false)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = h.Test(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	res := h.Execute(ctx, "SELECT 1", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not connected")

	require.NoError(t, h.Connect(ctx))
	// Connect is idempotent.
	require.NoError(t, h.Connect(ctx))

	test, err := h.Test(ctx)
	require.NoError(t, err)
	assert.True(t, test.Success)
	assert.Contains(t, test.Version, "SQLite")

	require.NoError(t, h.Disconnect(ctx))
	require.NoError(t, h.Disconnect(ctx))

	res = h.Execute(ctx, "SELECT 1", nil)
	assert.False(t, res.Success)
}

func TestSQLiteExecute(t *testing.T) {
	ctx := context.Background()
	h := newTestSQLite(t, "readwritecreate")
	require.NoError(t, h.Connect(ctx))
	defer h.Disconnect(ctx)
	seedUsers(t, h)

	t.Run("select rows", func(t *testing.T) {
		res := h.Execute(ctx, "SELECT id, name FROM users ORDER BY id", nil)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{"id", "name"}, res.Columns)
		assert.Equal(t, 2, res.RowCount)
		assert.Equal(t, "amy", res.Rows[0]["name"])
	})

	t.Run("named parameters", func(t *testing.T) {
		res := h.Execute(ctx, "SELECT name FROM users WHERE id = :id", map[string]any{"id": 2})
		require.True(t, res.Success, res.Error)
		require.Equal(t, 1, res.RowCount)
		assert.Equal(t, "bo", res.Rows[0]["name"])
	})

	t.Run("count", func(t *testing.T) {
		res := h.Execute(ctx, "SELECT COUNT(*) AS count FROM users", nil)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{"count"}, res.Columns)
		assert.Equal(t, int64(2), res.Rows[0]["count"])
	})

	t.Run("sql error lands in the result", func(t *testing.T) {
		res := h.Execute(ctx, "SELECT * FROM no_such_table", nil)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("null values survive", func(t *testing.T) {
		res := h.Execute(ctx, "INSERT INTO users (name) VALUES (NULL)", nil)
		require.True(t, res.Success, res.Error)
		res = h.Execute(ctx, "SELECT name FROM users WHERE name IS NULL", nil)
		require.True(t, res.Success, res.Error)
		require.Equal(t, 1, res.RowCount)
		assert.Nil(t, res.Rows[0]["name"])
	})
}

func TestSQLiteSchema(t *testing.T) {
	ctx := context.Background()
	h := newTestSQLite(t, "readwritecreate")
	require.NoError(t, h.Connect(ctx))
	defer h.Disconnect(ctx)
	seedUsers(t, h)

	t.Run("tables only", func(t *testing.T) {
		snapshot, err := h.Schema(ctx, false)
		require.NoError(t, err)
		require.Len(t, snapshot.Tables, 1)
		table := snapshot.Tables[0]
		assert.Equal(t, "users", table.Name)
		assert.Empty(t, table.Columns)
		require.NotNil(t, table.RowCountEstimate)
		assert.Equal(t, int64(2), *table.RowCountEstimate)
	})

	t.Run("with columns", func(t *testing.T) {
		snapshot, err := h.Schema(ctx, true)
		require.NoError(t, err)
		require.Len(t, snapshot.Tables, 1)
		columns := snapshot.Tables[0].Columns
		require.Len(t, columns, 3)
		assert.Equal(t, "id", columns[0].Name)
		assert.True(t, columns[0].PrimaryKey)
		assert.Equal(t, "TEXT", columns[1].TypeString)
		assert.True(t, columns[1].Nullable)
	})
}

func TestSQLiteReadOnlyMode(t *testing.T) {
	ctx := context.Background()

	// Create the file first so the read-only open can succeed.
	path := filepath.Join(t.TempDir(), "ro.db")
	writer, err := testFactory().Make(Config{Kind: KindSQLite, Options: map[string]any{
		"filePath": path, "mode": "readwritecreate",
	}})
	require.NoError(t, err)
	require.NoError(t, writer.Connect(ctx))
	res := writer.Execute(ctx, "CREATE TABLE t (a INTEGER)", nil)
	require.True(t, res.Success, res.Error)
	require.NoError(t, writer.Disconnect(ctx))

	reader, err := testFactory().Make(Config{Kind: KindSQLite, Options: map[string]any{
		"filePath": path, "mode": "readonly",
	}})
	require.NoError(t, err)
	require.NoError(t, reader.Connect(ctx))
	defer reader.Disconnect(ctx)

	res = reader.Execute(ctx, "INSERT INTO t VALUES (1)", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "read-only")

	res = reader.Execute(ctx, "SELECT COUNT(*) AS n FROM t", nil)
	assert.True(t, res.Success, res.Error)
}
