package handler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlHandler struct {
	cfg Config

	mu sync.Mutex
	db *sql.DB
}

func newMySQLHandler(cfg Config, _ *Factory) (Handler, error) {
	return &mysqlHandler{cfg: cfg}, nil
}

func (h *mysqlHandler) Kind() Kind { return KindMySQL }

func (h *mysqlHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query"}
}

func (h *mysqlHandler) dsn() string {
	host := h.cfg.StringOption("host", "localhost")
	port := h.cfg.IntOption("port", 3306)
	user := h.cfg.StringOption("username", "")
	pass := h.cfg.StringOption("password", "")
	database := h.cfg.StringOption("database", "")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", user, pass, host, port, database)
	if h.cfg.BoolOption("ssl", false) {
		dsn += "&tls=skip-verify"
	}
	return dsn
}

func (h *mysqlHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		return nil
	}

	db, err := sql.Open("mysql", h.dsn())
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

func (h *mysqlHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func (h *mysqlHandler) Test(ctx context.Context) (*TestResult, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	start := time.Now()
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Version:   version,
	}, nil
}

func (h *mysqlHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, ErrNotConnected
	}

	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, TABLE_ROWS
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	snapshot := &SchemaSnapshot{Database: h.cfg.StringOption("database", "")}
	index := map[string]int{}
	for rows.Next() {
		var name string
		var estimate sql.NullInt64
		if err := rows.Scan(&name, &estimate); err != nil {
			return nil, err
		}
		table := TableDescriptor{Name: name}
		if estimate.Valid {
			v := estimate.Int64
			table.RowCountEstimate = &v
		}
		index[name] = len(snapshot.Tables)
		snapshot.Tables = append(snapshot.Tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !includeColumns {
		return snapshot, nil
	}

	colRows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var table, column, colType, nullable, key string
		if err := colRows.Scan(&table, &column, &colType, &nullable, &key); err != nil {
			return nil, err
		}
		i, ok := index[table]
		if !ok {
			continue
		}
		snapshot.Tables[i].Columns = append(snapshot.Tables[i].Columns, ColumnDescriptor{
			Name:       column,
			TypeString: colType,
			Nullable:   nullable == "YES",
			PrimaryKey: key == "PRI",
		})
	}
	return snapshot, colRows.Err()
}

func (h *mysqlHandler) Execute(ctx context.Context, query string, params map[string]any) *QueryResult {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	return runSQL(ctx, db, query, namedArgs(params))
}
