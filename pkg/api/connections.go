package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadwin95/Text2SQLAgent/pkg/connection"
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/masking"
)

// connectionRequest is the body of create, update and test calls.
type connectionRequest struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Kind    handler.Kind   `json:"kind"`
	Options map[string]any `json:"options"`
}

func (r connectionRequest) config() handler.Config {
	return handler.Config{ID: r.ID, Name: r.Name, Kind: r.Kind, Options: r.Options}
}

// connectionView is a listing entry: the runtime snapshot plus the stored
// options with credentials masked.
type connectionView struct {
	connection.Info
	Options map[string]any `json:"options,omitempty"`
}

func (s *Server) view(info connection.Info) connectionView {
	v := connectionView{Info: info}
	v.LastError = masking.Scrub(info.LastError)
	if cfg, err := s.manager.GetConfig(info.ID); err == nil {
		v.Options = masking.Options(cfg.Options, handler.SensitiveFields())
	}
	return v
}

// kindDescriptor is one entry of the supported-backends listing.
type kindDescriptor struct {
	Kind      handler.Kind        `json:"kind"`
	Installed bool                `json:"installed"`
	Fields    []handler.FieldSpec `json:"fields"`
}

// listSupported returns every described backend kind with its config field
// schema. Kinds without an installed handler are included so clients can
// show them as unavailable.
func (s *Server) listSupported(c *gin.Context) {
	all := s.factory.DescribeAll()
	kinds := make([]handler.Kind, 0, len(all))
	for kind := range all {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]kindDescriptor, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, kindDescriptor{
			Kind:      kind,
			Installed: s.factory.Installed(kind),
			Fields:    all[kind],
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listConnections(c *gin.Context) {
	infos := s.manager.List()
	views := make([]connectionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, s.view(info))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) createConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}

	id, err := s.manager.Create(c.Request.Context(), req.config())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) updateConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.manager.Update(c.Request.Context(), id, req.config()); err != nil {
		respondError(c, err)
		return
	}
	info, err := s.manager.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(info))
}

// deleteConnection is idempotent: removing an unknown id reports success so
// retried deletes cannot fail.
func (s *Server) deleteConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Remove(c.Request.Context(), id); err != nil && statusFromError(err) != http.StatusNotFound {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "removed"})
}

// testConnection probes a config without persisting it.
func (s *Server) testConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind is required"})
		return
	}

	result, err := s.manager.Test(c.Request.Context(), req.config())
	if err != nil {
		respondError(c, err)
		return
	}
	result.Error = masking.Scrub(result.Error)
	c.JSON(http.StatusOK, result)
}

func (s *Server) activateConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Activate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	info, err := s.manager.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(info))
}

func (s *Server) deactivateConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	info, err := s.manager.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(info))
}

// refreshConnection re-tests one connection and re-introspects its schema.
func (s *Server) refreshConnection(c *gin.Context) {
	id := c.Param("id")
	test, snapshot, err := s.manager.Refresh(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	test.Error = masking.Scrub(test.Error)
	c.JSON(http.StatusOK, gin.H{"test": test, "schema": snapshot})
}

func (s *Server) activeSchema(c *gin.Context) {
	s.schemaResponse(c, "")
}

func (s *Server) connectionSchema(c *gin.Context) {
	s.schemaResponse(c, c.Param("id"))
}

// schemaResponse serves the schema of one connection; an empty id targets
// the active connection.
func (s *Server) schemaResponse(c *gin.Context, id string) {
	include, err := strconv.ParseBool(c.DefaultQuery("include_columns", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "include_columns must be a boolean"})
		return
	}

	snapshot, err := s.manager.Schema(c.Request.Context(), id, include)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// queryBody is the body of the direct query endpoint.
type queryBody struct {
	Query        string         `json:"query"`
	ConnectionID string         `json:"connection_id"`
	Params       map[string]any `json:"params"`
}

// executeQuery runs one statement against a connection. Execution failures
// come back inside the result with a 200, matching the handler contract;
// only malformed requests produce an error status.
func (s *Server) executeQuery(c *gin.Context) {
	var req queryBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	ctx := c.Request.Context()
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	result := s.manager.Execute(ctx, req.ConnectionID, req.Query, req.Params)
	result.Error = masking.Scrub(result.Error)
	c.JSON(http.StatusOK, result)
}

func (s *Server) managerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Status())
}

func (s *Server) connectionHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	events := s.manager.History(limit)
	c.JSON(http.StatusOK, gin.H{"history": events, "count": len(events)})
}
