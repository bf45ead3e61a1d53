package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresHandler struct {
	cfg Config

	mu sync.Mutex
	db *sql.DB
}

func newPostgreSQLHandler(cfg Config, _ *Factory) (Handler, error) {
	return &postgresHandler{cfg: cfg}, nil
}

func (h *postgresHandler) Kind() Kind { return KindPostgreSQL }

func (h *postgresHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query"}
}

func (h *postgresHandler) schemaNamespace() string {
	return h.cfg.StringOption("schema", "public")
}

func (h *postgresHandler) dsn() string {
	host := h.cfg.StringOption("host", "localhost")
	port := h.cfg.IntOption("port", 5432)
	user := h.cfg.StringOption("username", "")
	pass := h.cfg.StringOption("password", "")
	database := h.cfg.StringOption("database", "")

	sslMode := "prefer"
	if h.cfg.HasOption("ssl") {
		if h.cfg.BoolOption("ssl", false) {
			sslMode = "require"
		} else {
			sslMode = "disable"
		}
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + database,
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *postgresHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		return nil
	}

	db, err := sql.Open("pgx", h.dsn())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	h.db = db
	return nil
}

func (h *postgresHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func (h *postgresHandler) Test(ctx context.Context) (*TestResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Version:   version,
	}, nil
}

// Schema lists tables in the configured schema. Without columns it reads only
// pg_stat_all_tables, one round trip with live-tuple estimates; tables the
// stats collector has not seen yet simply do not appear.
func (h *postgresHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	snapshot := &SchemaSnapshot{
		Database: h.cfg.StringOption("database", ""),
		Schema:   h.schemaNamespace(),
	}

	if !includeColumns {
		rows, err := db.QueryContext(ctx, `
			SELECT relname, n_live_tup
			FROM pg_stat_all_tables
			WHERE schemaname = $1
			ORDER BY relname`, h.schemaNamespace())
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			var live int64
			if err := rows.Scan(&name, &live); err != nil {
				return nil, err
			}
			estimate := live
			snapshot.Tables = append(snapshot.Tables, TableDescriptor{
				Name:             name,
				SchemaNamespace:  h.schemaNamespace(),
				RowCountEstimate: &estimate,
			})
		}
		return snapshot, rows.Err()
	}

	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, h.schemaNamespace())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	index := map[string]int{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		index[name] = len(snapshot.Tables)
		snapshot.Tables = append(snapshot.Tables, TableDescriptor{
			Name:            name,
			SchemaNamespace: h.schemaNamespace(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	colRows, err := db.QueryContext(ctx, `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
		       COALESCE(pk.is_primary, false)
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.table_name, kcu.column_name, true AS is_primary
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON tc.constraint_name = kcu.constraint_name
			 AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
		) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
		WHERE c.table_schema = $1
		ORDER BY c.table_name, c.ordinal_position`, h.schemaNamespace())
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var table, column, dataType, nullable string
		var primary bool
		if err := colRows.Scan(&table, &column, &dataType, &nullable, &primary); err != nil {
			return nil, err
		}
		i, ok := index[table]
		if !ok {
			continue
		}
		snapshot.Tables[i].Columns = append(snapshot.Tables[i].Columns, ColumnDescriptor{
			Name:       column,
			TypeString: dataType,
			Nullable:   nullable == "YES",
			PrimaryKey: primary,
		})
	}
	return snapshot, colRows.Err()
}

func (h *postgresHandler) Execute(ctx context.Context, query string, params map[string]any) *QueryResult {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	return runSQL(ctx, db, query, namedArgs(params))
}
