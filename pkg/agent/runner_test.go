package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadwin95/Text2SQLAgent/pkg/events"
)

func testRunner(t *testing.T, script *scriptedLLM, maxConcurrent int) *Runner {
	t.Helper()
	orch := NewOrchestrator(testLogger(), script, testManager(t), testTools(t), 0)
	return NewRunner(testLogger(), orch, maxConcurrent)
}

func TestRunnerRunsToCompletion(t *testing.T) {
	script := &scriptedLLM{t: t, text: []scriptedReply{{content: "Hello!"}}}
	runner := testRunner(t, script, 2)

	id, stream, err := runner.Start(context.Background(), "안녕하세요")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	evs := collect(t, stream)
	require.Equal(t, []events.Type{events.TypeStart, events.TypeResult, events.TypeDone}, eventTypes(evs))

	runner.Wait(context.Background())
	assert.Equal(t, 0, runner.Active())
}

func TestRunnerConcurrencyBound(t *testing.T) {
	script := &scriptedLLM{t: t, json: []scriptedReply{{block: true}}}
	runner := testRunner(t, script, 1)

	id, stream, err := runner.Start(context.Background(), "수출 통계 조회")
	require.NoError(t, err)
	require.Equal(t, events.TypeStart, readEvent(t, stream).Type)
	assert.Equal(t, 1, runner.Active())

	_, _, err = runner.Start(context.Background(), "인구 통계 조회")
	assert.ErrorIs(t, err, ErrTooManyRuns)

	require.NoError(t, runner.Cancel(id))
	evs := collect(t, stream)
	require.Equal(t, []events.Type{events.TypeError, events.TypeDone}, eventTypes(evs))
	assert.Equal(t, "cancelled", evs[0].Message)

	runner.Wait(context.Background())
	assert.Equal(t, 0, runner.Active())

	// The slot is free again.
	script.mu.Lock()
	script.text = append(script.text, scriptedReply{content: "Hi!"})
	script.mu.Unlock()

	_, stream, err = runner.Start(context.Background(), "고마워")
	require.NoError(t, err)
	collect(t, stream)
}

func TestRunnerCancelUnknownRun(t *testing.T) {
	runner := testRunner(t, &scriptedLLM{t: t}, 1)
	assert.ErrorIs(t, runner.Cancel("not-a-run"), ErrRunNotFound)
}

func TestRunnerCancelAll(t *testing.T) {
	script := &scriptedLLM{t: t, json: []scriptedReply{{block: true}, {block: true}}}
	runner := testRunner(t, script, 2)

	_, stream1, err := runner.Start(context.Background(), "수출 통계 조회")
	require.NoError(t, err)
	_, stream2, err := runner.Start(context.Background(), "인구 통계 조회")
	require.NoError(t, err)

	require.Equal(t, events.TypeStart, readEvent(t, stream1).Type)
	require.Equal(t, events.TypeStart, readEvent(t, stream2).Type)

	runner.CancelAll()

	for _, stream := range []<-chan events.StreamEvent{stream1, stream2} {
		evs := collect(t, stream)
		require.Equal(t, []events.Type{events.TypeError, events.TypeDone}, eventTypes(evs))
		assert.Equal(t, "cancelled", evs[0].Message)
	}

	runner.Wait(context.Background())
	assert.Equal(t, 0, runner.Active())
}

func TestRunnerStreamMatchesDirectRun(t *testing.T) {
	script := &scriptedLLM{t: t,
		json: []scriptedReply{{content: `{"steps":[{"index":1,"kind":"query","description":"q","tool_name":"","arguments":"","sql":"SELECT 1 AS one","question":"","table_name":"","chart_kind":""}]}`}},
		text: []scriptedReply{{content: "One."}},
	}
	runner := testRunner(t, script, 2)

	_, stream, err := runner.Start(context.Background(), "데이터 조회")
	require.NoError(t, err)

	evs := collect(t, stream)
	require.Equal(t, []events.Type{
		events.TypeStart,
		events.TypePlanning,
		events.TypeStepStarted,
		events.TypeQuery,
		events.TypeQuery,
		events.TypeResult,
		events.TypeDone,
	}, eventTypes(evs))
}
