package handler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultKOSISBaseURL is the public KOSIS OpenAPI root.
const DefaultKOSISBaseURL = "https://kosis.kr/openapi"

// kosisHandler exposes the KOSIS statistics API as virtual tables. The API
// key travels as a request parameter, not a header.
type kosisHandler struct {
	cfg    Config
	client *apiClient
	tables map[string]VirtualTable

	mu        sync.Mutex
	connected bool
}

func newKOSISHandler(cfg Config, f *Factory) (Handler, error) {
	baseURL := cfg.StringOption("base_url", DefaultKOSISBaseURL)
	client := newAPIClient(baseURL, f.HTTPTimeout)
	client.headers = map[string]string{"User-Agent": "text2sql-agent/1.0"}
	client.checkEnvelope = kosisEnvelopeError

	h := &kosisHandler{
		cfg:    cfg,
		client: client,
	}
	h.tables = kosisTables(cfg.StringOption("api_key", ""))
	return h, nil
}

// kosisEnvelopeError recognises the KOSIS error envelope, an object carrying
// "err" and usually "errMsg" instead of row data.
func kosisEnvelopeError(body map[string]any) error {
	code, ok := body["err"]
	if !ok {
		return nil
	}
	msg, _ := body["errMsg"].(string)
	if msg == "" {
		return fmt.Errorf("KOSIS error %v", code)
	}
	return fmt.Errorf("KOSIS error %v: %s", code, msg)
}

// kosisTables declares the virtual tables backed by KOSIS endpoints. Every
// request carries apiKey, format=json and jsonVD=Y on top of the listed
// parameters.
func kosisTables(apiKey string) map[string]VirtualTable {
	common := func(extra map[string]string) map[string]string {
		fixed := map[string]string{
			"apiKey": apiKey,
			"format": "json",
			"jsonVD": "Y",
		}
		for k, v := range extra {
			fixed[k] = v
		}
		return fixed
	}

	tables := []VirtualTable{
		{
			Name:        "statistics_search",
			Description: "keyword search over the statistics catalogue",
			Path:        "statisticsSearch.do",
			Fixed:       common(map[string]string{"method": "getList", "searchYN": "Y"}),
			Required:    []string{"searchNm"},
			DataPath:    "result",
			Columns: []string{
				"TBL_ID", "TBL_NM", "TBL_ENG_NM", "ORG_ID", "ORG_NM",
				"STAT_ID", "STAT_NM", "CYCLE", "SURVEY_YN", "LOAD_DT",
			},
		},
		{
			Name:        "statistics_list",
			Description: "browse the statistics catalogue tree",
			Path:        "statisticsList.do",
			Fixed:       common(map[string]string{"method": "getList"}),
			Defaults:    map[string]string{"vwCd": "MT_ZTITLE", "parentListId": "MT_ZTITLE"},
			DataPath:    "result",
			Columns: []string{
				"LIST_ID", "LIST_NM", "ORG_ID", "ORG_NM", "TBL_ID", "TBL_NM", "SRCH_YN",
			},
		},
		{
			Name:        "statistics_data",
			Description: "fetch statistics observations for one table",
			Path:        "statisticsParameterData.do",
			Fixed:       common(map[string]string{"method": "getList"}),
			Defaults: map[string]string{
				"prdSe":        "Y",
				"newEstPrdCnt": "1",
				"loadGubun":    "2",
			},
			Prepare:   prepareStatisticsData,
			Required:  []string{"orgId", "tblId"},
			DataPath:  "result.data",
			Transform: transformStatisticsRows,
			Columns: []string{
				"PRD_DE", "PRD_SE", "ITM_NM", "ITM_ID", "UNIT_NM", "DT",
				"C1", "C1_NM", "C2", "C2_NM",
			},
		},
		{
			Name:        "statistics_bigdata",
			Description: "fetch a saved user statistics view",
			Path:        "statisticsBigData.do",
			Fixed:       common(map[string]string{"method": "getList"}),
			Required:    []string{"userStatsId"},
			DataPath:    "result",
		},
		{
			Name:        "statistics_explanation",
			Description: "narrative metadata for one statistical survey",
			Path:        "statisticsDetail.do",
			Fixed:       common(map[string]string{"method": "getDetail"}),
			Defaults:    map[string]string{"metaItm": "All"},
			Required:    []string{"statId"},
			DataPath:    "result",
		},
		{
			Name:        "statistics_table_detail",
			Description: "classification and item codes for one table",
			Path:        "statisticsDetail.do",
			Fixed:       common(map[string]string{"method": "getMeta"}),
			Required:    []string{"tblId"},
			DataPath:    "result",
		},
		{
			Name:        "statistics_main_indicator",
			Description: "headline national indicators",
			Path:        "statisticsMainIndicator.do",
			Fixed:       common(map[string]string{"method": "getList"}),
			DataPath:    "result",
		},
	}

	out := make(map[string]VirtualTable, len(tables))
	for _, t := range tables {
		out[t.Name] = t
	}
	return out
}

// prepareStatisticsData fills the dimension defaults KOSIS insists on and
// resolves the period selection. An explicit period range replaces the
// latest-N-periods shortcut.
func prepareStatisticsData(params map[string]string) {
	if params["startPrdDe"] != "" || params["endPrdDe"] != "" {
		delete(params, "newEstPrdCnt")
	}
	if params["objL1"] == "" {
		params["objL1"] = "00"
	}
	if params["itmId"] == "" {
		params["itmId"] = "T20"
	}
}

// transformStatisticsRows normalises observation rows: empty strings become
// NULL and the DT value column becomes a number when it parses as one.
func transformStatisticsRows(rows []map[string]any) []map[string]any {
	for _, row := range rows {
		for key, value := range row {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if s == "" {
				row[key] = nil
				continue
			}
			if key == "DT" {
				if strings.Contains(s, ".") {
					if f, err := strconv.ParseFloat(s, 64); err == nil {
						row[key] = f
					}
				} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					row[key] = n
				}
			}
		}
	}
	return rows
}

func (h *kosisHandler) Kind() Kind { return KindKOSISAPI }

func (h *kosisHandler) SupportedOperations() []string {
	return []string{"connect", "disconnect", "test", "schema", "query", "search"}
}

func (h *kosisHandler) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.StringOption("api_key", "") == "" {
		return fmt.Errorf("%w: api_key is empty", ErrConnectFailed)
	}
	h.connected = true
	return nil
}

func (h *kosisHandler) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	return nil
}

func (h *kosisHandler) isConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Test issues a small catalogue request and checks that the response is
// either a row array or an object carrying "result" without an error code.
func (h *kosisHandler) Test(ctx context.Context) (*TestResult, error) {
	if !h.isConnected() {
		return nil, ErrNotConnected
	}

	start := time.Now()
	params := map[string]string{
		"method":       "getList",
		"apiKey":       h.cfg.StringOption("api_key", ""),
		"format":       "json",
		"jsonVD":       "Y",
		"vwCd":         "MT_ZTITLE",
		"parentListId": "MT_ZTITLE",
	}
	body, err := h.client.get(ctx, "statisticsList.do", params)
	if err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	if _, err := h.client.extractRows(body, "result"); err != nil {
		return &TestResult{Success: false, Error: err.Error()}, nil
	}
	return &TestResult{
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		Version:   "KOSIS OpenAPI",
	}, nil
}

// Schema lists the virtual tables. Column metadata is declared, not probed.
func (h *kosisHandler) Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error) {
	if !h.isConnected() {
		return nil, ErrNotConnected
	}

	snapshot := &SchemaSnapshot{Database: "kosis"}
	for _, name := range sortedTableNames(h.tables) {
		table := h.tables[name]
		descriptor := TableDescriptor{Name: table.Name}
		if includeColumns {
			for _, col := range table.Columns {
				descriptor.Columns = append(descriptor.Columns, ColumnDescriptor{
					Name:       col,
					TypeString: kosisColumnType(col),
					Nullable:   true,
				})
			}
		}
		snapshot.Tables = append(snapshot.Tables, descriptor)
	}
	return snapshot, nil
}

func kosisColumnType(col string) string {
	if col == "DT" {
		return "number"
	}
	return "string"
}

var describePattern = regexp.MustCompile(`(?i)^\s*(?:DESCRIBE|DESC)\s+([A-Za-z_]\w*)\s*;?\s*$`)

func (h *kosisHandler) Execute(ctx context.Context, query string, _ map[string]any) *QueryResult {
	if !h.isConnected() {
		return FailedResult("not connected")
	}

	if isShowTables(query) {
		return h.showTables()
	}
	if m := describePattern.FindStringSubmatch(query); m != nil {
		return h.describeTable(m[1])
	}
	return executeVirtual(ctx, h.client, h.tables, query)
}

func (h *kosisHandler) showTables() *QueryResult {
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

func (h *kosisHandler) describeTable(name string) *QueryResult {
	start := time.Now()
	table, ok := h.tables[name]
	if !ok {
		return FailedResult("unknown table %q; available tables: %s", name, tableNames(h.tables))
	}

	rows := make([]map[string]any, 0, len(table.Columns)+len(table.Required))
	for _, col := range table.Columns {
		rows = append(rows, map[string]any{
			"column": col,
			"type":   kosisColumnType(col),
			"role":   "data",
		})
	}
	for _, param := range table.Required {
		rows = append(rows, map[string]any{
			"column": param,
			"type":   "string",
			"role":   "required parameter",
		})
	}
	return ResultSince(start, []string{"column", "type", "role"}, rows)
}
