package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

// plannerSystem is the system prompt for plan generation and reflection.
const plannerSystem = `You are a data analysis planner. You break a user's question into an
ordered sequence of executable steps and return them as JSON.

## Step kinds
- "tool_call": invoke a tool. Set tool_name and arguments (a JSON object
  encoded as a string). The result becomes a workspace table named
  step{index}_{tool_name}.
- "query": run SQL against the workspace tables. Either set sql directly
  or set question and the SQL will be written for you. The result becomes
  step{index}_query.
- "visualization": chart an existing workspace table. Set table_name; set
  chart_kind (line, bar, pie, doughnut) only when the user asked for a
  specific one.

## Rules
- Number steps from 1, contiguously, in execution order.
- A query or visualization step may only reference tables that already
  exist in the workspace or are produced by an earlier step of this plan.
- Use the fewest steps that answer the question.
- Do not invent tools or tool parameters.
- When the workspace already holds usable tables from earlier attempts,
  build on them instead of fetching the same data again.`

// sqlWriterSystem asks for one SQLite statement over workspace tables.
const sqlWriterSystem = `You write a single SQLite SELECT statement that answers a question
using only the listed workspace tables. Quote identifiers that contain
dots or spaces with double quotes. Return JSON with one field "sql".
No INSERT, UPDATE, DELETE or DDL.`

// generalSystem answers non-data utterances directly.
const generalSystem = `You are a helpful data analysis assistant backed by database connections
and the Korean statistics (KOSIS) API. Answer the user briefly in their
language. If the question could be answered better with data you can
reach, finish with one short suggestion of what to ask.`

// answerSystem composes the final answer from produced tables.
const answerSystem = `You summarise query results for the user. Answer their original question
directly and concretely from the data shown, in the user's language.
Mention at most a handful of numbers; do not restate whole tables.
If the data does not answer the question, say what is missing.`

// kosisHints lists table references verified against the live API. The
// planner otherwise tends to hallucinate org and table ids.
const kosisHints = `## Verified KOSIS references
- population by region: orgId "101", tblId "DT_1B040A3", itmId "T20", objL1 "00" (nationwide)
- GDP: orgId "301", tblId "DT_1DA7001"
- consumer price index: orgId "101", tblId "DT_1DD0001"
Annual data: prdSe "Y" with startPrdDe/endPrdDe like "2020"/"2023".`

// buildPlanUser renders the user message for a first planning call.
func buildPlanUser(utterance, schema, toolCatalog, workspaceDesc string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Question\n%s\n\n", utterance)
	fmt.Fprintf(&b, "## Active connection schema\n%s\n\n", schema)
	fmt.Fprintf(&b, "## Available tools\n%s\n\n", toolCatalog)
	fmt.Fprintf(&b, "## Workspace tables\n%s\n\n", workspaceDesc)
	b.WriteString(kosisHints)
	return b.String()
}

// buildReflectionUser renders the user message for a re-planning call
// after one or more failed attempts.
func buildReflectionUser(utterance, schema, toolCatalog, workspaceDesc string, history []attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Question\n%s\n\n", utterance)
	b.WriteString("## Previous attempts\n")
	for i, att := range history {
		fmt.Fprintf(&b, "### Attempt %d\nPlan: %s\n", i+1, att.planJSON)
		for _, outcome := range att.outcomes {
			fmt.Fprintf(&b, "- %s\n", outcome)
		}
		if att.failure != "" {
			fmt.Fprintf(&b, "Failed: %s\n", att.failure)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "## Active connection schema\n%s\n\n", schema)
	fmt.Fprintf(&b, "## Available tools\n%s\n\n", toolCatalog)
	fmt.Fprintf(&b, "## Workspace tables (already produced, reuse them)\n%s\n\n", workspaceDesc)
	b.WriteString(kosisHints)
	b.WriteString("\n\nProduce a revised plan that continues from the current workspace state.")
	return b.String()
}

// buildSQLUser renders the user message for workspace SQL generation.
func buildSQLUser(question, workspaceDesc string) string {
	return fmt.Sprintf("## Workspace tables\n%s\n\n## Question\n%s", workspaceDesc, question)
}

// buildAnswerUser renders the final-answer user message from the tables a
// run produced. Row previews are capped so large results stay affordable.
func buildAnswerUser(utterance string, tables []ResultTable) string {
	const previewRows = 10

	var b strings.Builder
	fmt.Fprintf(&b, "## Question\n%s\n\n## Data\n", utterance)
	for _, tbl := range tables {
		fmt.Fprintf(&b, "### %s (%d rows)\n", tbl.Name, tbl.Data.RowCount)
		rows := tbl.Data.Rows
		if len(rows) > previewRows {
			rows = rows[:previewRows]
		}
		preview, err := json.Marshal(rows)
		if err != nil {
			continue
		}
		b.Write(preview)
		if tbl.Data.RowCount > previewRows {
			fmt.Fprintf(&b, "\n(%d more rows omitted)", tbl.Data.RowCount-previewRows)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// renderToolSpecs formats the tool catalog for the planner.
func renderToolSpecs(specs []ToolSpec) string {
	var b strings.Builder
	for i, spec := range specs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n", spec.Name, spec.Description)
		for _, p := range spec.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "- %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
			if p.Default != "" {
				fmt.Fprintf(&b, " (default %s)", p.Default)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderSchema formats a SchemaSnapshot for the planner. A nil snapshot
// means no active connection.
func renderSchema(snapshot *handler.SchemaSnapshot) string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return "none"
	}

	var b strings.Builder
	if snapshot.Database != "" {
		fmt.Fprintf(&b, "database: %s\n", snapshot.Database)
	}
	for _, tbl := range snapshot.Tables {
		b.WriteString(tbl.Name)
		if len(tbl.Columns) > 0 {
			cols := make([]string, len(tbl.Columns))
			for i, c := range tbl.Columns {
				cols[i] = c.Name + " " + c.TypeString
			}
			fmt.Fprintf(&b, "(%s)", strings.Join(cols, ", "))
		}
		if tbl.RowCountEstimate != nil {
			fmt.Fprintf(&b, " -- ~%d rows", *tbl.RowCountEstimate)
		}
		b.WriteString("\n")
	}
	return b.String()
}
