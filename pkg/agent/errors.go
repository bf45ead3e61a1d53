package agent

import "errors"

var (
	// ErrPlanInvalid marks LLM plans rejected by validation.
	ErrPlanInvalid = errors.New("plan validation failed")
	// ErrToolCallFailed marks a statically registered tool that failed.
	ErrToolCallFailed = errors.New("tool call failed")
	// ErrBudgetExhausted is returned when every planning attempt failed.
	ErrBudgetExhausted = errors.New("plan budget exhausted")
	// ErrTooManyRuns rejects new runs past the concurrency bound.
	ErrTooManyRuns = errors.New("too many concurrent runs")
	// ErrRunNotFound marks cancel requests for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)
