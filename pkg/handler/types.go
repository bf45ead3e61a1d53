package handler

import (
	"fmt"
	"strconv"
	"time"
)

// QueryResult is the tabular outcome of one Execute call. When Success is
// true every row carries a value (possibly nil) for every name in Columns.
type QueryResult struct {
	Success         bool             `json:"success"`
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	RowCount        int              `json:"row_count"`
	ExecutionTimeMS int64            `json:"execution_time_ms"`
	Error           string           `json:"error,omitempty"`
}

// FailedResult builds a failure QueryResult from a printf-style message.
func FailedResult(format string, args ...any) *QueryResult {
	return &QueryResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ResultSince stamps a successful result with columns, rows and the elapsed
// time since start.
func ResultSince(start time.Time, columns []string, rows []map[string]any) *QueryResult {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &QueryResult{
		Success:         true,
		Columns:         columns,
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
}

// SchemaSnapshot describes the tables visible through one connection.
type SchemaSnapshot struct {
	Database string            `json:"database,omitempty"`
	Schema   string            `json:"schema,omitempty"`
	Tables   []TableDescriptor `json:"tables"`
}

// TableDescriptor describes one table (or collection, or virtual table).
type TableDescriptor struct {
	Name             string             `json:"name"`
	SchemaNamespace  string             `json:"schema_namespace,omitempty"`
	Columns          []ColumnDescriptor `json:"columns,omitempty"`
	RowCountEstimate *int64             `json:"row_count_estimate,omitempty"`
}

// ColumnDescriptor describes one column of a table.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	TypeString string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// Config is one stored connection configuration. Backend-specific fields
// (host, port, credentials, file path, base URL, ...) live in Options under
// the names enumerated by Describe for the kind.
type Config struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Kind    Kind           `json:"kind"`
	Options map[string]any `json:"options,omitempty"`
}

// Clone returns a deep-enough copy: Options is copied one level, which covers
// every field schema value type.
func (c Config) Clone() Config {
	out := c
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

// StringOption returns the named option as a string, or fallback when the
// option is absent or empty.
func (c Config) StringOption(name, fallback string) string {
	v, ok := c.Options[name]
	if !ok || v == nil {
		return fallback
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return fallback
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IntOption returns the named option as an int. JSON decodes numbers as
// float64 and UIs often submit numbers as strings; both are accepted.
func (c Config) IntOption(name string, fallback int) int {
	v, ok := c.Options[name]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}

// BoolOption returns the named option as a bool.
func (c Config) BoolOption(name string, fallback bool) bool {
	v, ok := c.Options[name]
	if !ok || v == nil {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	case float64:
		return b != 0
	}
	return fallback
}

// HasOption reports whether the option is present and non-empty.
func (c Config) HasOption(name string) bool {
	v, ok := c.Options[name]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}
