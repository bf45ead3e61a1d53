package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIQuery(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    apiQuery
		wantErr bool
	}{
		{
			name: "star",
			sql:  "SELECT * FROM statistics_search WHERE searchNm = '인구'",
			want: apiQuery{
				Table:  "statistics_search",
				Params: map[string]string{"searchNm": "인구"},
			},
		},
		{
			name: "column list and limit",
			sql:  "SELECT PRD_DE, DT FROM statistics_data WHERE orgId = '101' AND tblId = 'DT_1B040A3' LIMIT 10",
			want: apiQuery{
				Table:   "statistics_data",
				Columns: []string{"PRD_DE", "DT"},
				Params:  map[string]string{"orgId": "101", "tblId": "DT_1B040A3"},
				Limit:   10,
			},
		},
		{
			name: "lowercase keywords and bare value",
			sql:  "select * from statistics_list where vwCd = MT_OTITLE",
			want: apiQuery{
				Table:  "statistics_list",
				Params: map[string]string{"vwCd": "MT_OTITLE"},
			},
		},
		{
			name: "double quoted value with spaces",
			sql:  `SELECT * FROM statistics_search WHERE searchNm = "consumer price index"`,
			want: apiQuery{
				Table:  "statistics_search",
				Params: map[string]string{"searchNm": "consumer price index"},
			},
		},
		{
			name: "no where clause",
			sql:  "SELECT * FROM statistics_main_indicator",
			want: apiQuery{
				Table:  "statistics_main_indicator",
				Params: map[string]string{},
			},
		},
		{
			name: "trailing semicolon",
			sql:  "SELECT * FROM statistics_list;",
			want: apiQuery{
				Table:  "statistics_list",
				Params: map[string]string{},
			},
		},
		{name: "insert rejected", sql: "INSERT INTO t VALUES (1)", wantErr: true},
		{name: "missing from", sql: "SELECT 1", wantErr: true},
		{name: "garbage", sql: "not sql at all", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAPIQuery(tc.sql)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Table, got.Table)
			assert.Equal(t, tc.want.Columns, got.Columns)
			assert.Equal(t, tc.want.Params, got.Params)
			assert.Equal(t, tc.want.Limit, got.Limit)
		})
	}
}

func TestExtractRows(t *testing.T) {
	client := newAPIClient("http://example.invalid", 0)

	t.Run("top level array", func(t *testing.T) {
		rows, err := client.extractRows([]byte(`[{"a":1},{"a":2}]`), "result.data")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("data path walk", func(t *testing.T) {
		rows, err := client.extractRows([]byte(`{"result":{"data":[{"a":1}]}}`), "result.data")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, float64(1), rows[0]["a"])
	})

	t.Run("object at path is a single row", func(t *testing.T) {
		rows, err := client.extractRows([]byte(`{"result":{"statNm":"census"}}`), "result")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "census", rows[0]["statNm"])
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := client.extractRows([]byte(`{"other":[]}`), "result")
		assert.ErrorContains(t, err, "result")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := client.extractRows([]byte(`<html>`), "")
		assert.ErrorContains(t, err, "invalid JSON")
	})

	t.Run("envelope check runs on objects", func(t *testing.T) {
		c := newAPIClient("http://example.invalid", 0)
		c.checkEnvelope = kosisEnvelopeError
		_, err := c.extractRows([]byte(`{"err":"30","errMsg":"wrong key"}`), "result")
		require.Error(t, err)
		assert.ErrorContains(t, err, "wrong key")
	})
}

func TestTabulate(t *testing.T) {
	rows := []map[string]any{
		{"b": 2, "a": 1, "extra": "x"},
		{"a": 3, "c": 4},
	}

	columns, normalized := tabulate(rows, []string{"a", "b", "missing"})
	// Preferred columns lead; extras follow sorted within each row's turn.
	assert.Equal(t, []string{"a", "b", "extra", "c"}, columns)
	require.Len(t, normalized, 2)
	// Every row carries every column, absent values as nil.
	assert.Nil(t, normalized[1]["b"])
	assert.Equal(t, 4, normalized[1]["c"])
}

func TestProject(t *testing.T) {
	rows := []map[string]any{{"a": 1, "b": 2}}
	columns, projected := project([]string{"a", "b"}, rows, []string{"b", "nope"})
	assert.Equal(t, []string{"b", "nope"}, columns)
	assert.Equal(t, 2, projected[0]["b"])
	assert.Nil(t, projected[0]["nope"])
}

func TestQueryReturnsRows(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  with t as (select 1) select * from t", true},
		{"SHOW TABLES", true},
		{"PRAGMA table_info(users)", true},
		{"EXPLAIN SELECT 1", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (a int)", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, queryReturnsRows(tc.sql), "sql: %s", tc.sql)
	}
}
