package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPlanValid(t *testing.T) {
	resp := planResponse{Steps: []planStep{
		{Index: 1, Kind: "tool_call", Description: "fetch population", ToolName: "fetch_kosis_data",
			Arguments: `{"orgId":"101","tblId":"DT_1B040A3"}`},
		{Index: 2, Kind: "query", Description: "aggregate",
			SQL: "SELECT * FROM step1_fetch_kosis_data"},
		{Index: 3, Kind: "visualization", Description: "draw",
			TableName: "Step2_Query", ChartKind: "LINE"},
	}}

	plan, err := convertPlan(resp, testTools(t), nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, KindToolCall, plan.Steps[0].Kind)
	assert.Equal(t, map[string]any{"orgId": "101", "tblId": "DT_1B040A3"}, plan.Steps[0].Arguments)

	// References are rewritten to the exact registered casing.
	assert.Equal(t, "step2_query", plan.Steps[2].TableName)
	assert.Equal(t, "line", plan.Steps[2].ChartKind)
}

func TestConvertPlanIndexNormalization(t *testing.T) {
	query := func(index int, sql string) planStep {
		return planStep{Index: index, Kind: "query", Description: "q", SQL: sql}
	}

	t.Run("zero based shifts up", func(t *testing.T) {
		plan, err := convertPlan(planResponse{Steps: []planStep{
			query(0, "SELECT 1"),
			query(1, "SELECT 2"),
		}}, testTools(t), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, plan.Steps[0].Index)
		assert.Equal(t, 2, plan.Steps[1].Index)
	})

	t.Run("unnumbered takes array order", func(t *testing.T) {
		plan, err := convertPlan(planResponse{Steps: []planStep{
			query(0, "SELECT 1"),
			query(0, "SELECT 2"),
			query(0, "SELECT 3"),
		}}, testTools(t), nil)
		require.NoError(t, err)
		for i, step := range plan.Steps {
			assert.Equal(t, i+1, step.Index)
		}
	})

	t.Run("out of order sorts", func(t *testing.T) {
		plan, err := convertPlan(planResponse{Steps: []planStep{
			query(2, "SELECT 2"),
			query(1, "SELECT 1"),
		}}, testTools(t), nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", plan.Steps[0].SQL)
		assert.Equal(t, "SELECT 2", plan.Steps[1].SQL)
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		_, err := convertPlan(planResponse{Steps: []planStep{
			query(1, "SELECT 1"),
			query(1, "SELECT 2"),
		}}, testTools(t), nil)
		assert.ErrorIs(t, err, ErrPlanInvalid)
	})

	t.Run("gaps rejected", func(t *testing.T) {
		_, err := convertPlan(planResponse{Steps: []planStep{
			query(1, "SELECT 1"),
			query(3, "SELECT 3"),
		}}, testTools(t), nil)
		assert.ErrorIs(t, err, ErrPlanInvalid)
	})

	t.Run("starting above one rejected", func(t *testing.T) {
		_, err := convertPlan(planResponse{Steps: []planStep{
			query(2, "SELECT 2"),
			query(3, "SELECT 3"),
		}}, testTools(t), nil)
		assert.ErrorIs(t, err, ErrPlanInvalid)
	})
}

func TestConvertPlanRejections(t *testing.T) {
	tests := []struct {
		name    string
		steps   []planStep
		wantMsg string
	}{
		{
			name:    "empty plan",
			steps:   nil,
			wantMsg: "no steps",
		},
		{
			name:    "unknown kind",
			steps:   []planStep{{Index: 1, Kind: "meditate", Description: "om"}},
			wantMsg: "unknown kind",
		},
		{
			name:    "unknown tool",
			steps:   []planStep{{Index: 1, Kind: "tool_call", ToolName: "summon_dragon", Arguments: "{}"}},
			wantMsg: "unknown tool",
		},
		{
			name:    "malformed arguments",
			steps:   []planStep{{Index: 1, Kind: "tool_call", ToolName: ExecuteSQLTool, Arguments: `{"query":`}},
			wantMsg: "not a JSON object",
		},
		{
			name:    "missing required argument",
			steps:   []planStep{{Index: 1, Kind: "tool_call", ToolName: ExecuteSQLTool, Arguments: "{}"}},
			wantMsg: "missing required parameter",
		},
		{
			name:    "query without sql or question",
			steps:   []planStep{{Index: 1, Kind: "query", Description: "empty"}},
			wantMsg: "needs sql or question",
		},
		{
			name:    "visualization without table",
			steps:   []planStep{{Index: 1, Kind: "visualization", Description: "draw"}},
			wantMsg: "needs table_name",
		},
		{
			name: "dangling table reference",
			steps: []planStep{
				{Index: 1, Kind: "query", SQL: "SELECT 1"},
				{Index: 2, Kind: "visualization", TableName: "step99_query"},
			},
			wantMsg: "step99_query",
		},
		{
			name: "reference to a later step",
			steps: []planStep{
				{Index: 1, Kind: "visualization", TableName: "step2_query"},
				{Index: 2, Kind: "query", SQL: "SELECT 1"},
			},
			wantMsg: "step2_query",
		},
		{
			name: "unknown chart kind",
			steps: []planStep{
				{Index: 1, Kind: "query", SQL: "SELECT 1"},
				{Index: 2, Kind: "visualization", TableName: "step1_query", ChartKind: "sparkline"},
			},
			wantMsg: "chart kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convertPlan(planResponse{Steps: tt.steps}, testTools(t), nil)
			require.ErrorIs(t, err, ErrPlanInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConvertPlanResolvesExistingTables(t *testing.T) {
	resp := planResponse{Steps: []planStep{
		{Index: 1, Kind: "visualization", Description: "draw", TableName: "GDP_BY_YEAR"},
	}}

	plan, err := convertPlan(resp, testTools(t), []string{"gdp_by_year"})
	require.NoError(t, err)
	assert.Equal(t, "gdp_by_year", plan.Steps[0].TableName)
}

func TestParseArguments(t *testing.T) {
	t.Run("empty means none", func(t *testing.T) {
		args, err := parseArguments("")
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("null means none", func(t *testing.T) {
		args, err := parseArguments(" null ")
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("object parses", func(t *testing.T) {
		args, err := parseArguments(`{"a": 1, "b": "two"}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, args)
	})

	t.Run("array rejected", func(t *testing.T) {
		_, err := parseArguments(`[1, 2]`)
		assert.Error(t, err)
	})
}

func TestStepTableName(t *testing.T) {
	assert.Equal(t, "step3_fetch_kosis_data", stepTableName(Step{Index: 3, Kind: KindToolCall, ToolName: "fetch_kosis_data"}))
	assert.Equal(t, "step2_query", stepTableName(Step{Index: 2, Kind: KindQuery}))
	assert.Empty(t, stepTableName(Step{Index: 1, Kind: KindVisualization}))
}
