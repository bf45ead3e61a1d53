package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// externalAPIHandler exposes an arbitrary JSON-over-HTTP API as virtual
// tables declared in the connection config. Authentication is Bearer when
// only api_key is set, Basic when username is set as well.
type externalAPIHandler struct {
	cfg    Config
	client *apiClient
	tables map[string]VirtualTable

	mu        sync.Mutex
	connected bool
}

// externalTableSpec is the JSON shape of one entry in the "tables" option.
type externalTableSpec struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Required    []string          `json:"required,omitempty"`
	DataPath    string            `json:"data_path,omitempty"`
	Columns     []string          `json:"columns,omitempty"`
}

func newExternalAPIHandler(cfg Config, f *Factory) (Handler, error) {
	client := newAPIClient(cfg.StringOption("base_url", ""), f.HTTPTimeout)
	client.headers = externalAuthHeaders(cfg)

	tables, err := parseExternalTables(cfg.StringOption("tables", ""))
	if err != nil {
		return nil, &ConfigError{Kind: cfg.Kind, Fields: []string{"tables"}, Err: err}
	}

	return &externalAPIHandler{
		cfg:    cfg,
		client: client,
		tables: tables,
	}, nil
}

func externalAuthHeaders(cfg Config) map[string]string {
	apiKey := cfg.StringOption("api_key", "")
	username := cfg.StringOption("username", "")

	headers := map[string]string{"User-Agent": "text2sql-agent/1.0"}
	switch {
	case username != "":
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + apiKey))
		headers["Authorization"] = "Basic " + credentials
	case apiKey != "":
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

// parseExternalTables decodes the "tables" option, a JSON array of table
// declarations. An empty option yields a single table named data rooted at
// the base URL.
func parseExternalTables(raw string) (map[string]VirtualTable, error) {
	out := map[string]VirtualTable{}
	if raw == "" {
		out["data"] = VirtualTable{
			Name:        "data",
			Description: "rows served at the API base URL",
		}
		return out, nil
	}

	var specs []externalTableSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, fmt.Errorf("%w: tables must be a JSON array of declarations: %v", ErrConfigInvalid, err)
	}
	for i, spec := range specs {
		if spec.Name == "" || spec.Path == "" {
			return nil, fmt.Errorf("%w: tables[%d] needs both name and path", ErrConfigInvalid, i)
		}
		if _, dup := out[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table name %q", ErrConfigInvalid, spec.Name)
		}
		out[spec.Name] = VirtualTable{
			Name:        spec.Name,
			Description: spec.Description,
			Path:        spec.Path,
			Defaults:    spec.Params,
			Required:    spec.Required,
			DataPath:    spec.DataPath,
			Columns:     spec.Columns,
		}
	}
	return out, nil
}

func (h *externalAPIHandler) Kind() Kind { return KindExternalAPI }

func (h *externalAPIHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query"}
}

func (h *externalAPIHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.StringOption("base_url", "") == "" {
		return fmt.Errorf("%w: base_url is empty", ErrConnectFailed)
	}
	h.connected = true
	return nil
}

func (h *externalAPIHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	return nil
}

func (h *externalAPIHandler) isConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Test probes the base URL; any response below 400 counts as reachable.
func (h *externalAPIHandler) Test(ctx context.Context) (*TestResult, error) {
	if !h.isConnected() {
		return nil, ErrNotConnected
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.StringOption("base_url", ""), nil)
	if err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	for k, v := range h.client.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.http.Do(req)
	if err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &TestResult{Success: false, Error: fmt.Sprintf("endpoint returned %s", resp.Status)}, nil
	}
	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (h *externalAPIHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	if !h.isConnected() {
		return nil, ErrNotConnected
	}

	snapshot := &SchemaSnapshot{Database: h.cfg.StringOption("base_url", "")}
	for _, name := range sortedTableNames(h.tables) {
		table := h.tables[name]
		descriptor := TableDescriptor{Name: table.Name}
		if includeColumns {
			for _, col := range table.Columns {
				descriptor.Columns = append(descriptor.Columns, ColumnDescriptor{
					Name:       col,
					TypeString: "string",
					Nullable:   true,
				})
			}
		}
		snapshot.Tables = append(snapshot.Tables, descriptor)
	}
	return snapshot, nil
}

func (h *externalAPIHandler) Execute(ctx context.Context, query string, _ map[string]any) *QueryResult {
	if !h.isConnected() {
		return FailedResult("not connected")
	}

	if isShowTables(query) {
		return h.showTables()
	}
	return executeVirtual(ctx, h.client, h.tables, query)
}

func (h *externalAPIHandler) showTables() *QueryResult {
	start := time.Now()
	rows := make([]map[string]any, 0, len(h.tables))
	for _, name := range sortedTableNames(h.tables) {
		rows = append(rows, map[string]any{
			"table":       name,
			"description": h.tables[name].Description,
		})
	}
	return ResultSince(start, []string{"table", "description"}, rows)
}
