package connection

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "connections.json"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(handler.NewFactory(5*time.Second), store, logger)
}

func sqliteConfig(t *testing.T, id string) handler.Config {
	t.Helper()
	return handler.Config{
		ID:   id,
		Kind: handler.KindSQLite,
		Options: map[string]any{
			"filePath": filepath.Join(t.TempDir(), id+".db"),
			"mode":     "readwritecreate",
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("generates id and name", func(t *testing.T) {
		id, err := m.Create(ctx, handler.Config{
			Kind:    handler.KindSQLite,
			Options: map[string]any{"filePath": "/tmp/gen.db"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		info, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateConfigured, info.State)
		assert.Contains(t, info.Name, "sqlite-")
	})

	t.Run("duplicate id", func(t *testing.T) {
		cfg := sqliteConfig(t, "dup")
		_, err := m.Create(ctx, cfg)
		require.NoError(t, err)
		_, err = m.Create(ctx, cfg)
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := m.Create(ctx, handler.Config{ID: "bad", Kind: handler.KindMySQL})
		assert.ErrorIs(t, err, handler.ErrConfigInvalid)
	})

	t.Run("unsupported kind", func(t *testing.T) {
		_, err := m.Create(ctx, handler.Config{
			ID:      "redis-1",
			Kind:    handler.KindRedis,
			Options: map[string]any{"host": "localhost"},
		})
		assert.ErrorIs(t, err, handler.ErrUnsupportedKind)
	})
}

func TestLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(filepath.Join(t.TempDir(), "connections.json"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := NewManager(handler.NewFactory(time.Second), store, logger)
	_, err := first.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	_, err = first.Create(ctx, handler.Config{
		ID: "c2", Kind: handler.KindKOSISAPI, Options: map[string]any{"api_key": "k"},
	})
	require.NoError(t, err)

	second := NewManager(handler.NewFactory(time.Second), store, logger)
	require.NoError(t, second.Load(ctx))

	infos := second.List()
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.Equal(t, StateConfigured, info.State)
	}

	cfg, err := second.GetConfig("c2")
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Options["api_key"])
}

func TestActivateSingleActive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id1, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	id2, err := m.Create(ctx, sqliteConfig(t, "c2"))
	require.NoError(t, err)

	require.NoError(t, m.Activate(ctx, id1))
	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, id1, active)

	// Switching the active connection demotes, never duplicates.
	require.NoError(t, m.Activate(ctx, id2))
	active, _ = m.Active()
	assert.Equal(t, id2, active)

	info1, _ := m.Get(id1)
	info2, _ := m.Get(id2)
	assert.Equal(t, StateConnected, info1.State)
	assert.Equal(t, StateActive, info2.State)

	activeCount := 0
	for _, info := range m.List() {
		if info.State == StateActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestActivateIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)

	require.NoError(t, m.Activate(ctx, id))
	require.NoError(t, m.Activate(ctx, id))

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, id, active)
}

func TestActivateFailures(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("missing id", func(t *testing.T) {
		assert.ErrorIs(t, m.Activate(ctx, "ghost"), ErrNotFound)
	})

	t.Run("connect failure marks error state", func(t *testing.T) {
		id, err := m.Create(ctx, handler.Config{
			ID:   "broken",
			Kind: handler.KindSQLite,
			Options: map[string]any{
				// Read-only open of a file that does not exist.
				"filePath": filepath.Join(t.TempDir(), "missing.db"),
				"mode":     "readonly",
			},
		})
		require.NoError(t, err)

		err = m.Activate(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, handler.ErrConnectFailed)

		info, _ := m.Get(id)
		assert.Equal(t, StateError, info.State)
		assert.NotEmpty(t, info.LastError)

		_, ok := m.Active()
		assert.False(t, ok)
	})
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, id))

	require.NoError(t, m.Deactivate(ctx, id))
	_, ok := m.Active()
	assert.False(t, ok)

	info, _ := m.Get(id)
	assert.Equal(t, StateConnected, info.State)

	// Not active any more: a second deactivate is a no-op.
	require.NoError(t, m.Deactivate(ctx, id))

	assert.ErrorIs(t, m.Deactivate(ctx, "ghost"), ErrNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	// Removing a missing id succeeds.
	require.NoError(t, m.Remove(ctx, "ghost"))

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, id))

	require.NoError(t, m.Remove(ctx, id))
	_, ok := m.Active()
	assert.False(t, ok)
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Remove(ctx, id))
}

func TestExecuteAndSchemaDelegation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)

	t.Run("not connected", func(t *testing.T) {
		_, err := m.Schema(ctx, id, false)
		assert.ErrorIs(t, err, ErrNotConnected)

		res := m.Execute(ctx, id, "SELECT 1", nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "not connected")
	})

	t.Run("no active connection", func(t *testing.T) {
		res := m.Execute(ctx, "", "SELECT 1", nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "no active connection")
	})

	require.NoError(t, m.Activate(ctx, id))

	t.Run("execute against explicit id", func(t *testing.T) {
		res := m.Execute(ctx, id, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", nil)
		require.True(t, res.Success, res.Error)
		res = m.Execute(ctx, id, "INSERT INTO users (name) VALUES ('amy')", nil)
		require.True(t, res.Success, res.Error)
	})

	t.Run("empty id routes to active", func(t *testing.T) {
		res := m.Execute(ctx, "", "SELECT COUNT(*) AS n FROM users", nil)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, int64(1), res.Rows[0]["n"])
	})

	t.Run("schema sees the table", func(t *testing.T) {
		snapshot, err := m.Schema(ctx, id, true)
		require.NoError(t, err)
		require.Len(t, snapshot.Tables, 1)
		assert.Equal(t, "users", snapshot.Tables[0].Name)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := m.Schema(ctx, "ghost", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, id))

	newCfg := sqliteConfig(t, "c1-replacement")
	require.NoError(t, m.Update(ctx, id, newCfg))

	// The live handler belonged to the old config, so the connection drops
	// back to configured and loses the active flag.
	info, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateConfigured, info.State)
	_, ok := m.Active()
	assert.False(t, ok)

	cfg, err := m.GetConfig(id)
	require.NoError(t, err)
	assert.Equal(t, id, cfg.ID, "id is immutable across updates")
	assert.Equal(t, newCfg.Options["filePath"], cfg.Options["filePath"])

	assert.ErrorIs(t, m.Update(ctx, "ghost", newCfg), ErrNotFound)
}

func TestTestConfig(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	t.Run("reachable", func(t *testing.T) {
		result, err := m.Test(ctx, sqliteConfig(t, "probe"))
		require.NoError(t, err)
		assert.True(t, result.Success, result.Error)
		assert.Contains(t, result.Version, "SQLite")
	})

	t.Run("unreachable lands in the result", func(t *testing.T) {
		result, err := m.Test(ctx, handler.Config{
			ID:   "probe2",
			Kind: handler.KindSQLite,
			Options: map[string]any{
				"filePath": filepath.Join(t.TempDir(), "missing.db"),
				"mode":     "readonly",
			},
		})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("invalid config is an error", func(t *testing.T) {
		_, err := m.Test(ctx, handler.Config{Kind: handler.KindMySQL})
		assert.ErrorIs(t, err, handler.ErrConfigInvalid)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)

	_, _, err = m.Refresh(ctx, id)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Activate(ctx, id))
	m.Execute(ctx, id, "CREATE TABLE t (a INTEGER)", nil)

	test, snapshot, err := m.Refresh(ctx, id)
	require.NoError(t, err)
	assert.True(t, test.Success)
	require.Len(t, snapshot.Tables, 1)
	assert.Equal(t, "t", snapshot.Tables[0].Name)
}

func TestHistoryAndStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, id))
	require.NoError(t, m.Deactivate(ctx, id))

	events := m.History(0)
	require.Len(t, events, 3)
	// Newest first.
	assert.Equal(t, "deactivated", events[0].Action)
	assert.Equal(t, "activated", events[1].Action)
	assert.Equal(t, "created", events[2].Action)

	limited := m.History(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "deactivated", limited[0].Action)

	status := m.Status()
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 1, status.ByKind[handler.KindSQLite])
	assert.Equal(t, 1, status.ByState[StateConnected])
	assert.Empty(t, status.ActiveID)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	id1, err := m.Create(ctx, sqliteConfig(t, "c1"))
	require.NoError(t, err)
	id2, err := m.Create(ctx, sqliteConfig(t, "c2"))
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, id1))
	require.NoError(t, m.Activate(ctx, id2))

	m.Shutdown(ctx)

	_, ok := m.Active()
	assert.False(t, ok)
	for _, id := range []string{id1, id2} {
		info, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateConfigured, info.State)
	}

	res := m.Execute(ctx, id1, "SELECT 1", nil)
	assert.False(t, res.Success)
}
