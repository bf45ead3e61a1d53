package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadwin95/Text2SQLAgent/pkg/events"
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/llm"
	"github.com/cadwin95/Text2SQLAgent/pkg/workspace"
)

// sqlResponse is the wire shape for generated workspace SQL.
type sqlResponse struct {
	SQL string `json:"sql" jsonschema_description:"one SQLite SELECT statement"`
}

var sqlSchema = llm.GenerateSchema[sqlResponse]()

// executePlan runs every step in order, emitting progress events and
// registering results in the workspace. The first failing step aborts the
// plan; outcomes up to that point stay recorded for reflection, and
// tables registered by completed steps stay in the workspace.
func (rs *runState) executePlan(ctx context.Context, plan Plan) error {
	rs.outcomes = rs.outcomes[:0]
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rs.executeStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (rs *runState) executeStep(ctx context.Context, step Step) error {
	rs.emit(events.StepStarted(step.Index, string(step.Kind), step.Description))

	switch step.Kind {
	case KindToolCall:
		return rs.runToolCall(ctx, step)
	case KindQuery:
		return rs.runQuery(ctx, step)
	case KindVisualization:
		return rs.runVisualization(ctx, step)
	}
	return fmt.Errorf("step %d has unknown kind %q", step.Index, step.Kind)
}

func (rs *runState) runToolCall(ctx context.Context, step Step) error {
	rs.emit(events.ToolCall(step.ToolName, events.StatusRunning, nil))

	result := rs.invokeTool(ctx, step)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !result.Success {
		rs.emit(events.ToolCall(step.ToolName, events.StatusError, result))
		rs.recordOutcome("step %d %s failed: %s", step.Index, step.ToolName, result.Error)
		return fmt.Errorf("step %d: %w: %s: %s", step.Index, ErrToolCallFailed, step.ToolName, result.Error)
	}

	table, err := rs.ws.Register(ctx, stepTableName(step), result)
	if err != nil {
		failed := handler.FailedResult("register result: %v", err)
		rs.emit(events.ToolCall(step.ToolName, events.StatusError, failed))
		rs.recordOutcome("step %d %s returned data the workspace rejected: %v", step.Index, step.ToolName, err)
		return fmt.Errorf("step %d: register %s result: %w", step.Index, step.ToolName, err)
	}

	rs.emit(events.ToolCall(step.ToolName, events.StatusCompleted, events.TableRef{
		TableName: table,
		RowCount:  result.RowCount,
	}))
	rs.recordTable(table, result)
	rs.recordOutcome("step %d %s -> table %s (%d rows)", step.Index, step.ToolName, table, result.RowCount)
	return nil
}

// invokeTool routes a tool_call to its implementation. Static tools run
// in-process; execute_sql goes to the active connection.
func (rs *runState) invokeTool(ctx context.Context, step Step) *handler.QueryResult {
	if tool, ok := rs.o.tools.Static(step.ToolName); ok {
		return tool.Invoke(ctx, step.Arguments)
	}
	if step.ToolName == ExecuteSQLTool {
		query, _ := step.Arguments["query"].(string)
		return rs.o.manager.Execute(ctx, "", query, nil)
	}
	return handler.FailedResult("tool %s has no implementation", step.ToolName)
}

func (rs *runState) runQuery(ctx context.Context, step Step) error {
	sql := step.SQL
	if sql == "" {
		generated, err := writeSQL(ctx, rs.o.llm, step.Question, rs.ws.RenderDescription())
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			rs.emit(events.Query("", events.StatusError, handler.FailedResult("write sql: %v", err)))
			rs.recordOutcome("step %d query: could not write sql for %q: %v", step.Index, step.Question, err)
			return fmt.Errorf("step %d: write sql: %w", step.Index, err)
		}
		sql = generated
	}

	rs.emit(events.Query(sql, events.StatusRunning, nil))

	result := rs.ws.SQL(ctx, sql)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !result.Success {
		rs.emit(events.Query(sql, events.StatusError, result))
		rs.recordOutcome("step %d query failed: %s (sql: %s)", step.Index, result.Error, sql)
		return fmt.Errorf("step %d: query failed: %s", step.Index, result.Error)
	}

	table, err := rs.ws.Register(ctx, stepTableName(step), result)
	if err != nil {
		rs.emit(events.Query(sql, events.StatusError, handler.FailedResult("register result: %v", err)))
		rs.recordOutcome("step %d query returned data the workspace rejected: %v", step.Index, err)
		return fmt.Errorf("step %d: register query result: %w", step.Index, err)
	}

	rs.emit(events.Query(sql, events.StatusCompleted, result))
	rs.result.ExecutedSQL = append(rs.result.ExecutedSQL, sql)
	rs.recordTable(table, result)
	rs.recordOutcome("step %d query -> table %s (%d rows)", step.Index, table, result.RowCount)
	return nil
}

func (rs *runState) runVisualization(ctx context.Context, step Step) error {
	var hint *workspace.ChartHint
	if step.ChartKind != "" {
		hint = &workspace.ChartHint{Kind: step.ChartKind}
	}

	chart, err := rs.ws.Chartify(ctx, step.TableName, hint)
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		rs.emit(events.ToolCall("chartify", events.StatusError, handler.FailedResult("%v", err)))
		rs.recordOutcome("step %d visualization of %s failed: %v", step.Index, step.TableName, err)
		return fmt.Errorf("step %d: chartify %s: %w", step.Index, step.TableName, err)
	}

	rs.emit(events.Visualization(chart))
	rs.result.Charts = append(rs.result.Charts, chart)
	rs.recordOutcome("step %d -> %s chart of %s", step.Index, chart.Kind, step.TableName)
	return nil
}

// writeSQL asks the model for one SELECT over the workspace tables. Like
// plan proposals, a retryable failure gets one immediate retry.
func writeSQL(ctx context.Context, c llm.Client, question, workspaceDesc string) (string, error) {
	req := llm.CompletionRequest{
		System:      sqlWriterSystem,
		User:        buildSQLUser(question, workspaceDesc),
		Temperature: llm.Temp(0),
	}

	var resp sqlResponse
	err := c.CompleteJSON(ctx, req, "sql_statement", sqlSchema, &resp)
	if err != nil && llm.IsRetryable(err) {
		resp = sqlResponse{}
		err = c.CompleteJSON(ctx, req, "sql_statement", sqlSchema, &resp)
	}
	if err != nil {
		return "", err
	}

	sql := strings.TrimSpace(resp.SQL)
	if sql == "" {
		return "", fmt.Errorf("model returned an empty statement")
	}
	return sql, nil
}

// recordTable upserts a produced table into the run result, so a table
// replaced by a later attempt appears once with its final contents.
func (rs *runState) recordTable(name string, data *handler.QueryResult) {
	for i := range rs.result.Tables {
		if rs.result.Tables[i].Name == name {
			rs.result.Tables[i].Data = data
			return
		}
	}
	rs.result.Tables = append(rs.result.Tables, ResultTable{Name: name, Data: data})
}

func (rs *runState) recordOutcome(format string, args ...any) {
	rs.outcomes = append(rs.outcomes, fmt.Sprintf(format, args...))
}
