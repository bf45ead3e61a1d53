// Package events defines the typed progress messages an agent run emits
// to its caller.
//
// Every run produces a totally ordered stream: `start`, then planning and
// execution events, then exactly one terminal pair (`result` or `error`,
// followed by `done`). The transport layer maps each event onto one
// server-sent-event frame; clients route on the `type` field.
package events

import (
	"time"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/workspace"
)

// Type discriminates StreamEvent variants.
type Type string

const (
	TypeStart         Type = "start"
	TypePlanning      Type = "planning"
	TypeStepStarted   Type = "step_started"
	TypeToolCall      Type = "tool_call"
	TypeQuery         Type = "query"
	TypeVisualization Type = "visualization"
	TypeResult        Type = "result"
	TypeError         Type = "error"
	TypeDone          Type = "done"
)

// Step execution status values (tool_call and query events).
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// PlanStep is the caller-visible summary of one planned step.
type PlanStep struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	ToolName    string `json:"tool_name,omitempty"`
	SQL         string `json:"sql,omitempty"`
}

// TableRef points at a registered workspace table. Completed tool_call
// events carry one instead of the full result set.
type TableRef struct {
	TableName string `json:"table_name"`
	RowCount  int    `json:"row_count"`
}

// StreamEvent is one progress message. Type selects the variant; fields
// the variant does not use stay empty and are dropped from the JSON.
type StreamEvent struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"` // RFC3339Nano

	Steps       []PlanStep           `json:"steps,omitempty"`       // planning
	StepIndex   int                  `json:"step_index,omitempty"`  // step_started (1-based)
	StepKind    string               `json:"step_kind,omitempty"`   // step_started
	Description string               `json:"description,omitempty"` // step_started
	ToolName    string               `json:"tool_name,omitempty"`   // tool_call
	Status      string               `json:"status,omitempty"`      // tool_call, query
	Data        any                  `json:"data,omitempty"`        // tool_call (TableRef), query (QueryResult)
	SQL         string               `json:"sql,omitempty"`         // query (the SQL actually executed)
	ChartData   *workspace.ChartData `json:"chart_data,omitempty"`  // visualization
	Final       any                  `json:"final,omitempty"`       // result (aggregate run payload)
	Message     string               `json:"message,omitempty"`     // error
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Start opens a run's stream.
func Start() StreamEvent {
	return StreamEvent{Type: TypeStart, Timestamp: now()}
}

// Planning announces a produced plan.
func Planning(steps []PlanStep) StreamEvent {
	return StreamEvent{Type: TypePlanning, Timestamp: now(), Steps: steps}
}

// StepStarted announces that step index is about to execute.
func StepStarted(index int, kind, description string) StreamEvent {
	return StreamEvent{
		Type:        TypeStepStarted,
		Timestamp:   now(),
		StepIndex:   index,
		StepKind:    kind,
		Description: description,
	}
}

// ToolCall reports a tool invocation. Data is nil while running, a
// TableRef once the result has been registered, and the failed result
// when the invocation errors.
func ToolCall(toolName, status string, data any) StreamEvent {
	return StreamEvent{
		Type:      TypeToolCall,
		Timestamp: now(),
		ToolName:  toolName,
		Status:    status,
		Data:      data,
	}
}

// Query reports a workspace SQL execution with the statement that ran.
func Query(sql, status string, data *handler.QueryResult) StreamEvent {
	ev := StreamEvent{
		Type:      TypeQuery,
		Timestamp: now(),
		SQL:       sql,
		Status:    status,
	}
	// A typed nil in the any field would marshal as "data": null.
	if data != nil {
		ev.Data = data
	}
	return ev
}

// Visualization carries chart data for a completed visualization step.
func Visualization(chart *workspace.ChartData) StreamEvent {
	return StreamEvent{Type: TypeVisualization, Timestamp: now(), ChartData: chart}
}

// Result carries the aggregate payload of a finished run.
func Result(final any) StreamEvent {
	return StreamEvent{Type: TypeResult, Timestamp: now(), Final: final}
}

// Error reports a run-level failure.
func Error(message string) StreamEvent {
	return StreamEvent{Type: TypeError, Timestamp: now(), Message: message}
}

// Done closes the stream. It is always the last event of a run.
func Done() StreamEvent {
	return StreamEvent{Type: TypeDone, Timestamp: now()}
}
