package agent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

// ExecuteSQLTool runs a query on the active connection. It is the only
// handler-backed tool; everything else in the registry is static.
const ExecuteSQLTool = "execute_sql"

// StaticTool is invoked directly by the executor, bypassing the active
// connection. Failures come back inside the result, never as a Go error.
type StaticTool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args map[string]any) *handler.QueryResult
}

// ToolRegistry holds the closed tool set offered to the planner. Adding a
// tool is a code change, not a runtime registration.
type ToolRegistry struct {
	specs  []ToolSpec
	static map[string]StaticTool
}

// NewToolRegistry builds the registry. kosisAPIKey may be empty; the
// KOSIS tool then fails at invocation with a clear message instead of
// disappearing from the planner's view.
func NewToolRegistry(factory *handler.Factory, kosisAPIKey string) *ToolRegistry {
	r := &ToolRegistry{static: make(map[string]StaticTool)}

	r.specs = append(r.specs, ToolSpec{
		Name: ExecuteSQLTool,
		Description: "Execute a query on the active connection. SQL for relational backends, " +
			"JSON find/aggregate/count for MongoDB, SELECT over virtual tables for API backends. " +
			"The result is registered as a workspace table.",
		Params: []ToolParam{
			{Name: "query", Type: "string", Required: true, Description: "the query text to execute"},
		},
	})

	kosis := &kosisDataTool{factory: factory, apiKey: kosisAPIKey}
	r.static[kosis.Spec().Name] = kosis
	r.specs = append(r.specs, kosis.Spec())

	return r
}

// Specs returns every tool description, in registration order.
func (r *ToolRegistry) Specs() []ToolSpec {
	return r.specs
}

// Spec looks up one tool description by name.
func (r *ToolRegistry) Spec(name string) (ToolSpec, bool) {
	for _, s := range r.specs {
		if s.Name == name {
			return s, true
		}
	}
	return ToolSpec{}, false
}

// Static returns the static implementation of a tool, when it has one.
func (r *ToolRegistry) Static(name string) (StaticTool, bool) {
	t, ok := r.static[name]
	return t, ok
}

// ValidateArgs checks required parameters and their loose JSON types
// against a spec. Unknown keys are allowed; tools decide what to do with
// them.
func ValidateArgs(spec ToolSpec, args map[string]any) error {
	var problems []string
	for _, p := range spec.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			problems = append(problems, fmt.Sprintf("parameter %q must be a %s", p.Name, p.Type))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: tool %s: %s", ErrPlanInvalid, spec.Name, strings.Join(problems, "; "))
	}
	return nil
}

func typeMatches(declared string, v any) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// kosisDataTool fetches statistics_data rows from KOSIS without requiring
// a kosis_api connection to be configured and active.
type kosisDataTool struct {
	factory *handler.Factory
	apiKey  string
}

func (t *kosisDataTool) Spec() ToolSpec {
	return ToolSpec{
		Name: "fetch_kosis_data",
		Description: "Fetch rows from a KOSIS (Korean statistics) data table. " +
			"orgId and tblId identify the table; period and dimension parameters narrow the result.",
		Params: []ToolParam{
			{Name: "orgId", Type: "string", Required: true, Description: "publishing organisation id, e.g. 101"},
			{Name: "tblId", Type: "string", Required: true, Description: "statistics table id, e.g. DT_1B040A3"},
			{Name: "prdSe", Type: "string", Required: false, Description: "period unit: Y, Q, M or D", Default: "Y"},
			{Name: "startPrdDe", Type: "string", Required: false, Description: "first period, e.g. 2020"},
			{Name: "endPrdDe", Type: "string", Required: false, Description: "last period, e.g. 2023"},
			{Name: "itmId", Type: "string", Required: false, Description: "item dimension id"},
			{Name: "objL1", Type: "string", Required: false, Description: "first classification dimension id"},
		},
	}
}

func (t *kosisDataTool) Invoke(ctx context.Context, args map[string]any) *handler.QueryResult {
	if t.apiKey == "" {
		return handler.FailedResult("KOSIS API key is not configured")
	}

	h, err := t.factory.Make(handler.Config{
		ID:   "static-kosis",
		Kind: handler.KindKOSISAPI,
		Options: map[string]any{
			"api_key": t.apiKey,
		},
	})
	if err != nil {
		return handler.FailedResult("build KOSIS handler: %v", err)
	}
	if err := h.Connect(ctx); err != nil {
		return handler.FailedResult("connect to KOSIS: %v", err)
	}
	defer func() { _ = h.Disconnect(context.WithoutCancel(ctx)) }()

	return h.Execute(ctx, buildKOSISSelect(args), nil)
}

// buildKOSISSelect turns the argument map into the equality-predicate
// SELECT the kosis_api handler understands. Every scalar argument becomes
// one predicate; keys are sorted so the statement is deterministic.
func buildKOSISSelect(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		if stringifyArg(args[k]) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("SELECT * FROM statistics_data")
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		v := strings.ReplaceAll(stringifyArg(args[k]), "'", "''")
		fmt.Fprintf(&b, "%s = '%s'", k, v)
	}
	return b.String()
}

func stringifyArg(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
