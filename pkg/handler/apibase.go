package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VirtualTable maps one upstream endpoint onto a table name that the SQL-ish
// query surface of API handlers can select from. WHERE equality conditions
// become request parameters.
type VirtualTable struct {
	Name        string
	Description string
	// Path is appended to the handler's base URL.
	Path string
	// Fixed parameters are always sent and cannot be overridden.
	Fixed map[string]string
	// Defaults are sent unless the query provides the parameter.
	Defaults map[string]string
	// Required parameters must be present after merging.
	Required []string
	// DataPath is a dot path to the row array inside the response body.
	// Empty means the body itself is the array.
	DataPath string
	// Prepare, when set, adjusts merged parameters before fixed parameters
	// and the required check are applied.
	Prepare func(params map[string]string)
	// Transform, when set, rewrites extracted rows before they are shaped
	// into a result.
	Transform func(rows []map[string]any) []map[string]any
	// Columns fixes the leading column order when the upstream rows carry
	// these fields. Fields outside the list follow in first-seen order.
	Columns []string
}

// apiQuery is the parsed form of the restricted SELECT accepted by API
// handlers.
type apiQuery struct {
	Table   string
	Columns []string
	Params  map[string]string
	Limit   int
}

var (
	selectPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(?P<cols>.+?)\s+FROM\s+(?P<table>[A-Za-z_][\w.]*)` +
		`(?:\s+WHERE\s+(?P<where>.+?))?(?:\s+LIMIT\s+(?P<limit>\d+))?\s*;?\s*$`)
	conditionPattern = regexp.MustCompile(`([A-Za-z_]\w*)\s*=\s*(?:'([^']*)'|"([^"]*)"|(\S+))`)
)

// parseAPIQuery parses the SELECT subset understood by API-backed handlers:
//
//	SELECT col, ... FROM table [WHERE k = v [AND ...]] [LIMIT n]
//
// Only equality conditions are allowed; values may be quoted.
func parseAPIQuery(sqlText string) (*apiQuery, error) {
	m := selectPattern.FindStringSubmatch(sqlText)
	if m == nil {
		return nil, fmt.Errorf("only SELECT ... FROM <table> [WHERE k = v AND ...] [LIMIT n] is supported")
	}
	groups := map[string]string{}
	for i, name := range selectPattern.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}

	q := &apiQuery{Table: groups["table"], Params: map[string]string{}}

	cols := strings.TrimSpace(groups["cols"])
	if cols != "*" {
		for _, c := range strings.Split(cols, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				return nil, fmt.Errorf("empty column in select list")
			}
			q.Columns = append(q.Columns, c)
		}
	}

	if where := strings.TrimSpace(groups["where"]); where != "" {
		matches := conditionPattern.FindAllStringSubmatch(where, -1)
		if len(matches) == 0 {
			return nil, fmt.Errorf("unparseable WHERE clause %q", where)
		}
		for _, cond := range matches {
			value := cond[2]
			if value == "" && cond[3] != "" {
				value = cond[3]
			}
			if value == "" && cond[4] != "" {
				value = cond[4]
			}
			q.Params[cond[1]] = value
		}
	}

	if lim := groups["limit"]; lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid LIMIT %q", lim)
		}
		q.Limit = n
	}
	return q, nil
}

// apiClient issues GET requests against a base URL and decodes tolerant JSON
// row sets. checkEnvelope, when set, inspects object bodies for an upstream
// error envelope before rows are extracted.
type apiClient struct {
	baseURL       string
	http          *http.Client
	headers       map[string]string
	checkEnvelope func(body map[string]any) error
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	full := c.baseURL
	if p := strings.TrimLeft(path, "/"); p != "" {
		full = c.baseURL + "/" + p
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint url: %w", err)
	}
	q := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, params[k])
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %s: %s", resp.Status, truncateForError(body))
	}
	return body, nil
}

// extractRows pulls the row array out of a response body. The body may be a
// bare JSON array, or an object holding the array under dataPath. An object
// at the end of the path counts as a single row.
func (c *apiClient) extractRows(body []byte, dataPath string) ([]map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("upstream sent invalid JSON: %w", err)
	}

	if obj, ok := decoded.(map[string]any); ok {
		if c.checkEnvelope != nil {
			if err := c.checkEnvelope(obj); err != nil {
				return nil, err
			}
		}
		if dataPath != "" {
			var err error
			decoded, err = walkDataPath(obj, dataPath)
			if err != nil {
				return nil, err
			}
		}
	}

	switch v := decoded.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("upstream body holds no row data")
	}
}

func walkDataPath(obj map[string]any, dataPath string) (any, error) {
	var current any = obj
	for _, segment := range strings.Split(dataPath, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("data path %q not found in response", dataPath)
		}
		current, ok = m[segment]
		if !ok {
			return nil, fmt.Errorf("data path %q not found in response", dataPath)
		}
	}
	return current, nil
}

// tabulate turns row maps into an ordered result. preferred columns lead when
// present in the data; remaining fields follow in first-seen order.
func tabulate(rows []map[string]any, preferred []string) ([]string, []map[string]any) {
	present := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			present[k] = true
		}
	}

	var columns []string
	added := map[string]bool{}
	for _, col := range preferred {
		if present[col] && !added[col] {
			columns = append(columns, col)
			added[col] = true
		}
	}
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !added[k] {
				columns = append(columns, k)
				added[k] = true
			}
		}
	}

	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		normalized := make(map[string]any, len(columns))
		for _, col := range columns {
			normalized[col] = row[col]
		}
		out[i] = normalized
	}
	return columns, out
}

// executeVirtual runs one parsed query against a virtual table definition.
func executeVirtual(ctx context.Context, client *apiClient, tables map[string]VirtualTable, sqlText string) *QueryResult {
	start := time.Now()

	q, err := parseAPIQuery(sqlText)
	if err != nil {
		return FailedResult("%v", err)
	}

	table, ok := tables[q.Table]
	if !ok {
		return FailedResult("unknown table %q; available tables: %s", q.Table, tableNames(tables))
	}

	params := map[string]string{}
	for k, v := range table.Defaults {
		params[k] = v
	}
	for k, v := range q.Params {
		params[k] = v
	}
	if table.Prepare != nil {
		table.Prepare(params)
	}
	for k, v := range table.Fixed {
		params[k] = v
	}
	for _, name := range table.Required {
		if params[name] == "" {
			return FailedResult("required parameter %s missing", name)
		}
	}

	body, err := client.get(ctx, table.Path, params)
	if err != nil {
		return FailedResult("%v", err)
	}
	rows, err := client.extractRows(body, table.DataPath)
	if err != nil {
		return FailedResult("%v", err)
	}
	if table.Transform != nil {
		rows = table.Transform(rows)
	}

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	preferred := table.Columns
	if len(q.Columns) > 0 {
		preferred = q.Columns
	}
	columns, normalized := tabulate(rows, preferred)

	if len(q.Columns) > 0 {
		columns, normalized = project(columns, normalized, q.Columns)
	}
	return ResultSince(start, columns, normalized)
}

// project restricts the result to the requested columns, keeping request
// order. Requested columns absent from the data still appear, as nil.
func project(_ []string, rows []map[string]any, requested []string) ([]string, []map[string]any) {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		projected := make(map[string]any, len(requested))
		for _, col := range requested {
			projected[col] = row[col]
		}
		out[i] = projected
	}
	return requested, out
}

func sortedTableNames(tables map[string]VirtualTable) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tableNames(tables map[string]VirtualTable) string {
	return strings.Join(sortedTableNames(tables), ", ")
}

var showTablesPattern = regexp.MustCompile(`(?i)^\s*SHOW\s+TABLES\s*;?\s*$`)

func isShowTables(query string) bool {
	return showTablesPattern.MatchString(query)
}

func truncateForError(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
