package handler

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"
)

// namedArgs converts the params map into sql.Named bind values, sorted by
// name. Engines whose driver rejects named parameters report that through
// the query result like any other execution failure.
func namedArgs(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, sql.Named(name, params[name]))
	}
	return out
}

// queryReturnsRows reports whether the statement is expected to produce a
// result set. Anything else goes through Exec and reports affected rows.
func queryReturnsRows(sqlText string) bool {
	head := strings.ToUpper(firstWord(sqlText))
	switch head {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA", "VALUES":
		return true
	}
	return false
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' {
			return s[:i]
		}
	}
	return s
}

// runSQL executes a statement against db and packages the outcome as a
// QueryResult. Failures land in the result, never in an error return.
func runSQL(ctx context.Context, db *sql.DB, sqlText string, params []any) *QueryResult {
	start := time.Now()
	if db == nil {
		return FailedResult("not connected")
	}

	if !queryReturnsRows(sqlText) {
		res, err := db.ExecContext(ctx, sqlText, params...)
		if err != nil {
			return FailedResult("%v", err)
		}
		affected, _ := res.RowsAffected()
		return ResultSince(start,
			[]string{"affected_rows"},
			[]map[string]any{{"affected_rows": affected}},
		)
	}

	rows, err := db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return FailedResult("%v", err)
	}
	defer rows.Close()

	columns, rowMaps, err := ScanRows(rows)
	if err != nil {
		return FailedResult("%v", err)
	}
	return ResultSince(start, columns, rowMaps)
}

// ScanRows drains a result set into ordered columns and row maps. Driver
// []byte values become strings so results stay JSON-friendly; NULL stays nil.
func ScanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := make([]map[string]any, 0, 64)
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

func normalizeSQLValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
