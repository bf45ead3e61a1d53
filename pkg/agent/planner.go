package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cadwin95/Text2SQLAgent/pkg/llm"
)

// planStep is the wire shape the model returns. Arguments is a JSON
// object encoded as a string: strict schema mode cannot express a
// free-form object, so the tool arguments travel as text and are parsed
// during validation. Strict mode also requires every field, so unused
// ones come back as empty strings.
type planStep struct {
	Index       int    `json:"index" jsonschema_description:"1-based position in execution order"`
	Kind        string `json:"kind" jsonschema:"enum=tool_call,enum=query,enum=visualization"`
	Description string `json:"description" jsonschema_description:"what this step accomplishes"`
	ToolName    string `json:"tool_name" jsonschema_description:"tool to invoke, tool_call steps only"`
	Arguments   string `json:"arguments" jsonschema_description:"tool arguments as a JSON object string, tool_call steps only"`
	SQL         string `json:"sql" jsonschema_description:"SQL over workspace tables, query steps only"`
	Question    string `json:"question" jsonschema_description:"question to answer with SQL when sql is not given, query steps only"`
	TableName   string `json:"table_name" jsonschema_description:"workspace table to read, visualization steps only"`
	ChartKind   string `json:"chart_kind" jsonschema_description:"line, bar, pie or doughnut; empty lets the chart builder pick"`
}

type planResponse struct {
	Steps []planStep `json:"steps"`
}

var planSchema = llm.GenerateSchema[planResponse]()

// attempt records one planning round for reflection prompts.
type attempt struct {
	planJSON string   // the plan as the model proposed it
	outcomes []string // one line per executed step, in order
	failure  string   // what ended the attempt, empty when it succeeded
}

// proposePlan asks the model for a plan. A retryable completion failure
// gets one immediate retry; it does not consume a plan attempt.
func proposePlan(ctx context.Context, c llm.Client, system, user string) (planResponse, error) {
	req := llm.CompletionRequest{
		System:      system,
		User:        user,
		Temperature: llm.Temp(0),
	}

	var resp planResponse
	err := c.CompleteJSON(ctx, req, "plan", planSchema, &resp)
	if err != nil && llm.IsRetryable(err) {
		resp = planResponse{}
		err = c.CompleteJSON(ctx, req, "plan", planSchema, &resp)
	}
	if err != nil {
		return planResponse{}, err
	}
	return resp, nil
}

// convertPlan validates a proposed plan against the tool registry and
// the tables already in the workspace, returning executable steps.
// Indices are normalised (0-based and unnumbered plans are accepted),
// tool arguments are parsed and type-checked, and every table reference
// must resolve to an existing table or an earlier step's product. Any
// violation rejects the whole plan with ErrPlanInvalid.
func convertPlan(resp planResponse, tools *ToolRegistry, workspaceTables []string) (Plan, error) {
	if len(resp.Steps) == 0 {
		return Plan{}, fmt.Errorf("%w: plan has no steps", ErrPlanInvalid)
	}

	raw, err := normalizeIndices(resp.Steps)
	if err != nil {
		return Plan{}, err
	}

	// Lowercased lookup of every table a step may reference, growing as
	// steps are validated so only earlier products resolve.
	available := make(map[string]string, len(workspaceTables))
	for _, name := range workspaceTables {
		available[strings.ToLower(name)] = name
	}

	plan := Plan{Steps: make([]Step, 0, len(raw))}
	for _, rs := range raw {
		step, err := convertStep(rs, tools, available)
		if err != nil {
			return Plan{}, err
		}
		if product := stepTableName(step); product != "" {
			available[strings.ToLower(product)] = product
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// normalizeIndices sorts steps into execution order and renumbers them
// from 1. Plans numbered from 0 are shifted; plans with no numbering at
// all are taken in array order. Gaps and duplicates are rejected.
func normalizeIndices(steps []planStep) ([]planStep, error) {
	allZero := true
	for _, s := range steps {
		if s.Index != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		for i := range steps {
			steps[i].Index = i + 1
		}
		return steps, nil
	}

	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	start := steps[0].Index
	if start != 0 && start != 1 {
		return nil, fmt.Errorf("%w: step indices must start at 1, got %d", ErrPlanInvalid, start)
	}
	for i, s := range steps {
		if s.Index != start+i {
			return nil, fmt.Errorf("%w: step indices must be contiguous, got %d at position %d", ErrPlanInvalid, s.Index, i+1)
		}
	}
	if start == 0 {
		for i := range steps {
			steps[i].Index++
		}
	}
	return steps, nil
}

func convertStep(rs planStep, tools *ToolRegistry, available map[string]string) (Step, error) {
	step := Step{
		Index:       rs.Index,
		Kind:        StepKind(rs.Kind),
		Description: rs.Description,
		SQL:         strings.TrimSpace(rs.SQL),
		Question:    strings.TrimSpace(rs.Question),
		ChartKind:   strings.ToLower(strings.TrimSpace(rs.ChartKind)),
	}

	switch step.Kind {
	case KindToolCall:
		name := strings.TrimSpace(rs.ToolName)
		spec, ok := tools.Spec(name)
		if !ok {
			return Step{}, fmt.Errorf("%w: step %d calls unknown tool %q", ErrPlanInvalid, rs.Index, rs.ToolName)
		}
		args, err := parseArguments(rs.Arguments)
		if err != nil {
			return Step{}, fmt.Errorf("%w: step %d: %v", ErrPlanInvalid, rs.Index, err)
		}
		if err := ValidateArgs(spec, args); err != nil {
			return Step{}, fmt.Errorf("step %d: %w", rs.Index, err)
		}
		step.ToolName = name
		step.Arguments = args

	case KindQuery:
		if step.SQL == "" && step.Question == "" {
			return Step{}, fmt.Errorf("%w: step %d needs sql or question", ErrPlanInvalid, rs.Index)
		}
		if name := strings.TrimSpace(rs.TableName); name != "" {
			canonical, ok := available[strings.ToLower(name)]
			if !ok {
				return Step{}, fmt.Errorf("%w: step %d references table %q which no earlier step produces", ErrPlanInvalid, rs.Index, name)
			}
			step.TableName = canonical
		}

	case KindVisualization:
		name := strings.TrimSpace(rs.TableName)
		if name == "" {
			return Step{}, fmt.Errorf("%w: step %d needs table_name", ErrPlanInvalid, rs.Index)
		}
		canonical, ok := available[strings.ToLower(name)]
		if !ok {
			return Step{}, fmt.Errorf("%w: step %d references table %q which no earlier step produces", ErrPlanInvalid, rs.Index, name)
		}
		step.TableName = canonical
		switch step.ChartKind {
		case "", "line", "bar", "pie", "doughnut":
		default:
			return Step{}, fmt.Errorf("%w: step %d has unknown chart kind %q", ErrPlanInvalid, rs.Index, rs.ChartKind)
		}

	default:
		return Step{}, fmt.Errorf("%w: step %d has unknown kind %q", ErrPlanInvalid, rs.Index, rs.Kind)
	}

	return step, nil
}

// parseArguments decodes the arguments string. Empty and "null" mean no
// arguments.
func parseArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, fmt.Errorf("arguments is not a JSON object: %v", err)
	}
	return args, nil
}

// stepTableName is the workspace table a step's result registers under.
// Visualization steps produce charts, not tables.
func stepTableName(s Step) string {
	switch s.Kind {
	case KindToolCall:
		return fmt.Sprintf("step%d_%s", s.Index, s.ToolName)
	case KindQuery:
		return fmt.Sprintf("step%d_query", s.Index)
	}
	return ""
}
