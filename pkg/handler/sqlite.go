package handler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteHandler struct {
	cfg Config

	mu sync.Mutex
	db *sql.DB
}

func newSQLiteHandler(cfg Config, _ *Factory) (Handler, error) {
	return &sqliteHandler{cfg: cfg}, nil
}

func (h *sqliteHandler) Kind() Kind { return KindSQLite }

func (h *sqliteHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query"}
}

func (h *sqliteHandler) dsn() string {
	path := h.cfg.StringOption("filePath", "")
	mode := "rwc"
	switch h.cfg.StringOption("mode", "readwrite") {
	case "readonly":
		mode = "ro"
	case "readwrite":
		mode = "rw"
	case "readwritecreate":
		mode = "rwc"
	}
	return fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(5000)", path, mode)
}

func (h *sqliteHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", h.dsn())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	// SQLite allows one writer; a single pooled conn avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	h.db = db
	return nil
}

func (h *sqliteHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func (h *sqliteHandler) Test(ctx context.Context) (*TestResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Version:   "SQLite " + version,
	}, nil
}

func (h *sqliteHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	snapshot := &SchemaSnapshot{Database: h.cfg.StringOption("filePath", "")}
	for _, name := range names {
		table := TableDescriptor{Name: name}

		var count int64
		if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, name)).Scan(&count); err == nil {
			table.RowCountEstimate = &count
		}

		if includeColumns {
			cols, err := h.tableColumns(ctx, db, name)
			if err != nil {
				return nil, err
			}
			table.Columns = cols
		}
		snapshot.Tables = append(snapshot.Tables, table)
	}
	return snapshot, nil
}

func (h *sqliteHandler) tableColumns(ctx context.Context, db *sql.DB, table string) ([]ColumnDescriptor, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var out []ColumnDescriptor
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out = append(out, ColumnDescriptor{
			Name:       name,
			TypeString: colType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	return out, rows.Err()
}

func (h *sqliteHandler) Execute(ctx context.Context, query string, params map[string]any) *QueryResult {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()

	if h.cfg.StringOption("mode", "readwrite") == "readonly" && !queryReturnsRows(query) {
		return FailedResult("connection is read-only")
	}
	return runSQL(ctx, db, query, namedArgs(params))
}
