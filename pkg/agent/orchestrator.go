package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cadwin95/Text2SQLAgent/pkg/connection"
	"github.com/cadwin95/Text2SQLAgent/pkg/events"
	"github.com/cadwin95/Text2SQLAgent/pkg/llm"
	"github.com/cadwin95/Text2SQLAgent/pkg/workspace"
)

// DefaultPlanBudget bounds how many plans one run may produce before it
// gives up.
const DefaultPlanBudget = 3

// Orchestrator drives the plan, execute, reflect loop for one utterance
// at a time. It is safe for concurrent runs; each run gets its own
// workspace.
type Orchestrator struct {
	logger  *slog.Logger
	llm     llm.Client
	manager *connection.Manager
	tools   *ToolRegistry
	budget  int
}

// NewOrchestrator builds an orchestrator. budget <= 0 selects
// DefaultPlanBudget.
func NewOrchestrator(logger *slog.Logger, client llm.Client, manager *connection.Manager, tools *ToolRegistry, budget int) *Orchestrator {
	if budget <= 0 {
		budget = DefaultPlanBudget
	}
	return &Orchestrator{
		logger:  logger,
		llm:     client,
		manager: manager,
		tools:   tools,
		budget:  budget,
	}
}

// runState is the mutable state of one run, shared between the loop and
// the step executor.
type runState struct {
	o    *Orchestrator
	ws   *workspace.Workspace
	emit func(events.StreamEvent)

	result   RunResult
	history  []attempt
	outcomes []string // current attempt's per-step lines
}

// Run starts a run and returns its ordered event stream. The channel is
// unbuffered and always closed when the run ends; the caller must drain
// it even after losing interest, or the run blocks.
func (o *Orchestrator) Run(ctx context.Context, utterance string) <-chan events.StreamEvent {
	ch := make(chan events.StreamEvent)
	go o.run(ctx, utterance, ch)
	return ch
}

func (o *Orchestrator) run(ctx context.Context, utterance string, ch chan<- events.StreamEvent) {
	defer close(ch)

	start := time.Now()
	emit := func(ev events.StreamEvent) { ch <- ev }
	emit(events.Start())

	route := ClassifyUtterance(utterance)
	logger := o.logger.With("route", string(route))
	logger.Info("run started", "utterance_chars", len(utterance))

	if route == RouteGeneral {
		o.runGeneral(ctx, emit, utterance)
		logger.Info("run finished", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	ws, err := workspace.New(o.logger)
	if err != nil {
		emit(events.Error(fmt.Sprintf("open workspace: %v", err)))
		emit(events.Done())
		return
	}
	defer func() { _ = ws.Close() }()

	rs := &runState{o: o, ws: ws, emit: emit}
	rs.result.Route = RouteDataAnalysis
	o.runAnalysis(ctx, rs, utterance)
	logger.Info("run finished",
		"ok", rs.result.OK,
		"attempts", rs.result.Attempts,
		"tables", len(rs.result.Tables),
		"duration_ms", time.Since(start).Milliseconds())
}

// runGeneral answers directly, without planning or a workspace.
func (o *Orchestrator) runGeneral(ctx context.Context, emit func(events.StreamEvent), utterance string) {
	answer, err := o.complete(ctx, llm.CompletionRequest{
		System: generalSystem,
		User:   utterance,
	})
	if err != nil {
		if cancelled(err) {
			emit(events.Error("cancelled"))
		} else {
			emit(events.Error(fmt.Sprintf("answer failed: %v", err)))
		}
		emit(events.Done())
		return
	}

	emit(events.Result(RunResult{OK: true, Answer: answer, Route: RouteGeneral}))
	emit(events.Done())
}

// runAnalysis is the plan, execute, reflect loop. Each iteration consumes
// one unit of the plan budget; transport-level LLM retries do not.
func (o *Orchestrator) runAnalysis(ctx context.Context, rs *runState, utterance string) {
	schema := o.activeSchema(ctx)
	toolCatalog := renderToolSpecs(o.tools.Specs())
	lastFailure := ""

	for attemptNo := 1; attemptNo <= o.budget; attemptNo++ {
		if ctx.Err() != nil {
			rs.finishCancelled()
			return
		}
		rs.result.Attempts = attemptNo

		user := buildPlanUser(utterance, schema, toolCatalog, rs.ws.RenderDescription())
		if len(rs.history) > 0 {
			user = buildReflectionUser(utterance, schema, toolCatalog, rs.ws.RenderDescription(), rs.history)
		}

		resp, err := proposePlan(ctx, o.llm, plannerSystem, user)
		if err != nil {
			if cancelled(err) {
				rs.finishCancelled()
				return
			}
			lastFailure = fmt.Sprintf("planning call failed: %v", err)
			rs.addAttempt("", lastFailure)
			continue
		}

		planJSON, _ := json.Marshal(resp)
		plan, err := convertPlan(resp, o.tools, rs.ws.Tables())
		if err != nil {
			lastFailure = err.Error()
			rs.addAttempt(string(planJSON), lastFailure)
			rs.result.Errors = append(rs.result.Errors, lastFailure)
			continue
		}

		rs.emit(events.Planning(planSummary(plan)))

		if err := rs.executePlan(ctx, plan); err != nil {
			if cancelled(err) {
				rs.finishCancelled()
				return
			}
			lastFailure = err.Error()
			rs.addAttempt(string(planJSON), lastFailure)
			rs.result.Errors = append(rs.result.Errors, lastFailure)
			continue
		}

		o.finishSuccess(ctx, rs, utterance)
		return
	}

	msg := fmt.Sprintf("%v after %d plans", ErrBudgetExhausted, o.budget)
	if lastFailure != "" {
		msg = fmt.Sprintf("%s; last failure: %s", msg, lastFailure)
	}
	rs.emit(events.Error(msg))
	rs.emit(events.Done())
}

// finishSuccess composes the final answer and emits the terminal pair.
// When composition fails the produced data still counts as a result; the
// answer degrades to a plain summary.
func (o *Orchestrator) finishSuccess(ctx context.Context, rs *runState, utterance string) {
	answer, err := o.complete(ctx, llm.CompletionRequest{
		System: answerSystem,
		User:   buildAnswerUser(utterance, rs.result.Tables),
	})
	if err != nil {
		if cancelled(err) {
			rs.finishCancelled()
			return
		}
		o.logger.Warn("answer composition failed, falling back to summary", "error", err)
		answer = plainSummary(rs.result)
	}

	rs.result.OK = true
	rs.result.Answer = answer
	rs.emit(events.Result(rs.result))
	rs.emit(events.Done())
}

func (rs *runState) finishCancelled() {
	rs.emit(events.Error("cancelled"))
	rs.emit(events.Done())
}

// addAttempt snapshots the current attempt for reflection prompts. The
// outcome slice is copied because the executor reuses its backing array.
func (rs *runState) addAttempt(planJSON, failure string) {
	outcomes := make([]string, len(rs.outcomes))
	copy(outcomes, rs.outcomes)
	rs.history = append(rs.history, attempt{
		planJSON: planJSON,
		outcomes: outcomes,
		failure:  failure,
	})
}

// activeSchema renders the active connection's schema for prompts, or
// "none" when nothing is active or the fetch fails.
func (o *Orchestrator) activeSchema(ctx context.Context) string {
	id, ok := o.manager.Active()
	if !ok {
		return "none"
	}
	snapshot, err := o.manager.Schema(ctx, id, true)
	if err != nil {
		o.logger.Warn("schema fetch failed", "connection_id", id, "error", err)
		return "none"
	}
	return renderSchema(snapshot)
}

// complete calls the model for free text with one retry on transient
// failures.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	text, err := o.llm.Complete(ctx, req)
	if err != nil && llm.IsRetryable(err) {
		text, err = o.llm.Complete(ctx, req)
	}
	return text, err
}

func planSummary(plan Plan) []events.PlanStep {
	steps := make([]events.PlanStep, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = events.PlanStep{
			Index:       s.Index,
			Kind:        string(s.Kind),
			Description: s.Description,
			ToolName:    s.ToolName,
			SQL:         s.SQL,
		}
	}
	return steps
}

// plainSummary is the fallback answer when composition fails.
func plainSummary(result RunResult) string {
	if len(result.Tables) == 0 {
		return "The run completed without producing tables."
	}
	parts := make([]string, len(result.Tables))
	for i, tbl := range result.Tables {
		parts[i] = fmt.Sprintf("%s (%d rows)", tbl.Name, tbl.Data.RowCount)
	}
	summary := "Produced " + strings.Join(parts, ", ")
	if n := len(result.Charts); n == 1 {
		summary += " and 1 chart"
	} else if n > 1 {
		summary += fmt.Sprintf(" and %d charts", n)
	}
	return summary + "."
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
