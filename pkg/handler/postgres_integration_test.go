package handler

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresHandlerIntegration runs the full handler lifecycle against a
// real PostgreSQL container. Set TEST_POSTGRES=1 to enable; it needs a
// working Docker daemon.
func TestPostgresHandlerIntegration(t *testing.T) {
	if os.Getenv("TEST_POSTGRES") == "" {
		t.Skip("set TEST_POSTGRES=1 to run the PostgreSQL integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	parsed, err := url.Parse(connStr)
	require.NoError(t, err)
	password, _ := parsed.User.Password()

	h, err := testFactory().Make(Config{
		ID:   "pg",
		Kind: KindPostgreSQL,
		Options: map[string]any{
			"host":     parsed.Hostname(),
			"port":     parsed.Port(),
			"database": "test",
			"username": parsed.User.Username(),
			"password": password,
			"ssl":      false,
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.Connect(ctx))
	defer h.Disconnect(ctx)

	test, err := h.Test(ctx)
	require.NoError(t, err)
	assert.True(t, test.Success, test.Error)
	assert.Contains(t, test.Version, "PostgreSQL")

	res := h.Execute(ctx, `CREATE TABLE users (id SERIAL PRIMARY KEY, name TEXT NOT NULL)`, nil)
	require.True(t, res.Success, res.Error)

	res = h.Execute(ctx, `INSERT INTO users (name) VALUES ('amy'), ('bo')`, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(2), res.Rows[0]["affected_rows"])

	res = h.Execute(ctx, `SELECT id, name FROM users ORDER BY id`, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)

	// Populate the stats view so the tables-only snapshot sees the table.
	res = h.Execute(ctx, `ANALYZE users`, nil)
	require.True(t, res.Success, res.Error)

	snapshot, err := h.Schema(ctx, false)
	require.NoError(t, err)
	require.Len(t, snapshot.Tables, 1)
	assert.Equal(t, "users", snapshot.Tables[0].Name)
	assert.Empty(t, snapshot.Tables[0].Columns)
	require.NotNil(t, snapshot.Tables[0].RowCountEstimate)

	snapshot, err = h.Schema(ctx, true)
	require.NoError(t, err)
	require.Len(t, snapshot.Tables, 1)
	columns := snapshot.Tables[0].Columns
	require.Len(t, columns, 2)
	assert.Equal(t, "id", columns[0].Name)
	assert.True(t, columns[0].PrimaryKey)
	assert.False(t, columns[1].Nullable)

	res = h.Execute(ctx, `SELECT * FROM no_such_table`, nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
