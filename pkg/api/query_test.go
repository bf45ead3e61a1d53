package api

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadwin95/Text2SQLAgent/pkg/agent"
)

const countPlan = `{"steps":[{"index":1,"kind":"query","description":"count the rows","sql":"SELECT 2 AS n"}]}`

func TestNaturalQueryRunsAgent(t *testing.T) {
	script := &stubLLM{replies: []stubReply{
		{json: countPlan},
		{text: "There are 2 rows."},
	}}
	_, engine, manager := newTestServer(t, script, 4)

	id := createSQLite(t, engine, "analytics", filepath.Join(t.TempDir(), "analytics.db"))
	rec := doJSON(t, engine, http.MethodPost, "/api/database/connections/"+id+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/api/query", map[string]any{
		"question": "how many rows are there?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Run-Id"))

	var result agent.RunResult
	decodeBody(t, rec, &result)
	assert.True(t, result.OK)
	assert.Equal(t, "There are 2 rows.", result.Answer)
	assert.Equal(t, agent.RouteDataAnalysis, result.Route)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, "step1_query", result.Tables[0].Name)
	assert.Len(t, result.ExecutedSQL, 1)

	active, ok := manager.Active()
	require.True(t, ok)
	assert.Equal(t, id, active)
}

func TestNaturalQueryActivatesRequestedConnection(t *testing.T) {
	script := &stubLLM{replies: []stubReply{
		{json: countPlan},
		{text: "done"},
	}}
	_, engine, manager := newTestServer(t, script, 4)
	dir := t.TempDir()

	first := createSQLite(t, engine, "first", filepath.Join(dir, "first.db"))
	second := createSQLite(t, engine, "second", filepath.Join(dir, "second.db"))

	rec := doJSON(t, engine, http.MethodPost, "/api/database/connections/"+first+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/api/query", map[string]any{
		"question":      "how many rows are there?",
		"connection_id": second,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The switch is a side effect that outlives the request.
	active, ok := manager.Active()
	require.True(t, ok)
	assert.Equal(t, second, active)
}

func TestNaturalQueryUnknownConnection(t *testing.T) {
	_, engine, _ := newTestServer(t, &stubLLM{}, 4)

	rec := doJSON(t, engine, http.MethodPost, "/api/query", map[string]any{
		"question":      "how many rows?",
		"connection_id": "nope",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNaturalQueryValidation(t *testing.T) {
	_, engine, _ := newTestServer(t, &stubLLM{}, 4)

	rec := doJSON(t, engine, http.MethodPost, "/api/query", map[string]any{"question": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
