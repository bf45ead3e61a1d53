// Package workspace is the in-process SQL engine an orchestrator run uses
// to join and aggregate results from different backends. Query results are
// registered as tables in an in-memory SQLite database and queried with
// plain SELECT statements.
package workspace

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

// ErrSQL marks workspace statements that are rejected or fail to run.
var ErrSQL = errors.New("workspace sql error")

// TableInfo describes one registered table.
type TableInfo struct {
	Columns  []string `json:"columns"`
	RowCount int      `json:"row_count"`
}

type tableEntry struct {
	finalName     string
	requestedName string
	contentHash   string
	columns       []string
	rowCount      int
}

// Workspace wraps one in-memory database. Not safe for use after Close.
type Workspace struct {
	logger *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	tables map[string]*tableEntry
}

// New opens a fresh in-memory workspace.
func New(logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	// The memory database lives per connection; a second pooled conn would
	// see an empty database.
	db.SetMaxOpenConns(1)

	return &Workspace{
		logger: logger,
		db:     db,
		tables: make(map[string]*tableEntry),
	}, nil
}

// Close releases the database.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

// Register binds a query result as a table and returns the final table
// name. Registering the same name with identical content is a no-op;
// the same name with different content replaces the table; distinct names
// that normalise to the same identifier get a numeric suffix.
func (w *Workspace) Register(ctx context.Context, name string, result *handler.QueryResult) (string, error) {
	if result == nil || !result.Success {
		return "", fmt.Errorf("%w: cannot register a failed result", ErrSQL)
	}
	if len(result.Columns) == 0 {
		return "", fmt.Errorf("%w: result has no columns", ErrSQL)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return "", fmt.Errorf("%w: workspace is closed", ErrSQL)
	}

	hash := contentHash(result)

	if existing := w.findByRequested(name); existing != nil {
		if existing.contentHash == hash {
			return existing.finalName, nil
		}
		if err := w.replaceTable(ctx, existing, result, hash); err != nil {
			return "", err
		}
		w.logger.Debug("workspace table replaced", "table", existing.finalName, "rows", result.RowCount)
		return existing.finalName, nil
	}

	finalName := w.nextFreeName(normalizeTableName(name))
	entry := &tableEntry{
		finalName:     finalName,
		requestedName: name,
		contentHash:   hash,
	}
	if err := w.createAndFill(ctx, entry, result); err != nil {
		return "", err
	}
	w.tables[finalName] = entry
	w.logger.Debug("workspace table registered", "table", finalName, "rows", result.RowCount)
	return finalName, nil
}

// SQL runs a read-only statement against the workspace. Failures come back
// inside the result.
func (w *Workspace) SQL(ctx context.Context, query string) *handler.QueryResult {
	head := strings.ToUpper(firstToken(query))
	if head != "SELECT" && head != "WITH" {
		return handler.FailedResult("%v: only SELECT statements are allowed", ErrSQL)
	}

	w.mu.Lock()
	db := w.db
	w.mu.Unlock()
	if db == nil {
		return handler.FailedResult("%v: workspace is closed", ErrSQL)
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return handler.FailedResult("%v: %v", ErrSQL, err)
	}
	defer rows.Close()

	columns, data, err := handler.ScanRows(rows)
	if err != nil {
		return handler.FailedResult("%v: %v", ErrSQL, err)
	}
	return handler.ResultSince(start, columns, data)
}

// Describe lists registered tables with their columns and row counts.
func (w *Workspace) Describe() map[string]TableInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]TableInfo, len(w.tables))
	for name, entry := range w.tables {
		columns := make([]string, len(entry.columns))
		copy(columns, entry.columns)
		out[name] = TableInfo{Columns: columns, RowCount: entry.rowCount}
	}
	return out
}

// RenderDescription formats the table inventory for an LLM prompt.
func (w *Workspace) RenderDescription() string {
	info := w.Describe()
	if len(info) == 0 {
		return "no tables registered"
	}

	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s(%s) -- %d rows", name, strings.Join(info[name].Columns, ", "), info[name].RowCount)
	}
	return b.String()
}

// Tables returns the registered table names, sorted.
func (w *Workspace) Tables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Workspace) findByRequested(name string) *tableEntry {
	for _, entry := range w.tables {
		if entry.requestedName == name {
			return entry
		}
	}
	return nil
}

func (w *Workspace) nextFreeName(base string) string {
	if _, taken := w.tables[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if len(candidate) > maxTableNameLen {
			suffix := fmt.Sprintf("_%d", i)
			candidate = base[:maxTableNameLen-len(suffix)] + suffix
		}
		if _, taken := w.tables[candidate]; !taken {
			return candidate
		}
	}
}

func (w *Workspace) replaceTable(ctx context.Context, entry *tableEntry, result *handler.QueryResult, hash string) error {
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(entry.finalName)); err != nil {
		return fmt.Errorf("%w: drop %s: %v", ErrSQL, entry.finalName, err)
	}
	if err := w.createAndFill(ctx, entry, result); err != nil {
		return err
	}
	entry.contentHash = hash
	return nil
}

func (w *Workspace) createAndFill(ctx context.Context, entry *tableEntry, result *handler.QueryResult) error {
	types := inferColumnTypes(result)

	defs := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		defs[i] = quoteIdent(col) + " " + types[i]
	}
	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(entry.finalName), strings.Join(defs, ", "))
	if _, err := w.db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSQL, entry.finalName, err)
	}

	if len(result.Rows) > 0 {
		if err := w.bulkInsert(ctx, entry.finalName, result); err != nil {
			return err
		}
	}

	entry.columns = append([]string(nil), result.Columns...)
	entry.rowCount = len(result.Rows)
	return nil
}

func (w *Workspace) bulkInsert(ctx context.Context, table string, result *handler.QueryResult) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin insert: %v", ErrSQL, err)
	}
	defer tx.Rollback()

	quoted := make([]string, len(result.Columns))
	placeholders := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	))
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrSQL, err)
	}
	defer stmt.Close()

	values := make([]any, len(result.Columns))
	for _, row := range result.Rows {
		for i, col := range result.Columns {
			values[i] = toCell(row[col])
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("%w: insert into %s: %v", ErrSQL, table, err)
		}
	}
	return tx.Commit()
}

// toCell converts a result value into something the driver can bind.
// Booleans and structured values land in TEXT columns, so they are
// stored as text rather than left to driver coercion.
func toCell(v any) any {
	switch val := v.(type) {
	case nil, string, int, int64, float64:
		return val
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any, []string:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// inferColumnTypes picks INTEGER, REAL or TEXT per column: INTEGER when all
// non-null cells are integer-valued, REAL when all are numeric, else TEXT.
func inferColumnTypes(result *handler.QueryResult) []string {
	types := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		allInteger := true
		allNumeric := true
		sawValue := false

		for _, row := range result.Rows {
			v := row[col]
			if v == nil {
				continue
			}
			sawValue = true
			switch n := v.(type) {
			case int:
			case int64:
			case float64:
				if n != math.Trunc(n) {
					allInteger = false
				}
			default:
				allInteger = false
				allNumeric = false
			}
			if !allNumeric {
				break
			}
		}

		switch {
		case sawValue && allInteger:
			types[i] = "INTEGER"
		case sawValue && allNumeric:
			types[i] = "REAL"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

// contentHash fingerprints a result so identical re-registrations can be
// recognised. Rows hash in column order, so map ordering cannot leak in.
func contentHash(result *handler.QueryResult) string {
	h := sha256.New()
	for _, col := range result.Columns {
		h.Write([]byte(col))
		h.Write([]byte{0})
	}
	for _, row := range result.Rows {
		for _, col := range result.Columns {
			fmt.Fprintf(h, "%v", row[col])
			h.Write([]byte{1})
		}
		h.Write([]byte{2})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' {
			return s[:i]
		}
	}
	return s
}
