// Package agent turns a natural-language utterance into a validated plan,
// drives its execution against the active connection and the per-run SQL
// workspace, and reflects on failures until the plan budget runs out.
package agent

import (
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/workspace"
)

// StepKind discriminates plan steps.
type StepKind string

const (
	KindToolCall      StepKind = "tool_call"
	KindQuery         StepKind = "query"
	KindVisualization StepKind = "visualization"
)

// Route is the pre-planning classification of an utterance.
type Route string

const (
	RouteGeneral      Route = "general"
	RouteDataAnalysis Route = "data_analysis"
)

// Step is one validated unit of work inside a plan.
type Step struct {
	Index       int            `json:"index"` // 1-based, contiguous
	Kind        StepKind       `json:"kind"`
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name,omitempty"` // tool_call
	Arguments   map[string]any `json:"arguments,omitempty"` // tool_call
	SQL         string         `json:"sql,omitempty"`       // query, inline
	Question    string         `json:"question,omitempty"`  // query, LLM writes the SQL
	TableName   string         `json:"table_name,omitempty"`
	ChartKind   string         `json:"chart_kind,omitempty"` // visualization
}

// Plan is an accepted, ordered sequence of steps.
type Plan struct {
	Steps []Step `json:"steps"`
}

// ToolParam describes one parameter of a tool.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`
}

// ToolSpec is the static description of a callable tool, given to the LLM
// during planning and enforced during validation.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ToolParam `json:"params"`
}

// ResultTable is one table produced during a run, with its full data.
type ResultTable struct {
	Name string               `json:"name"`
	Data *handler.QueryResult `json:"data"`
}

// RunResult is the aggregate payload of a finished run. Tables produced
// before a later failure are preserved.
type RunResult struct {
	OK          bool                   `json:"ok"`
	Answer      string                 `json:"answer"`
	Route       Route                  `json:"route"`
	Attempts    int                    `json:"attempts"` // plans produced
	Tables      []ResultTable          `json:"tables,omitempty"`
	Charts      []*workspace.ChartData `json:"charts,omitempty"`
	ExecutedSQL []string               `json:"executed_sql,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
}
