package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// naturalQueryRequest is the body of POST /api/query.
type naturalQueryRequest struct {
	Question     string `json:"question"`
	ConnectionID string `json:"connection_id"`
}

// naturalQuery runs one agent run to completion and returns the aggregate
// result. When connection_id names a connection other than the active one,
// it is activated first; the switch outlives the request.
func (s *Server) naturalQuery(c *gin.Context) {
	var req naturalQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	ctx := c.Request.Context()
	if req.ConnectionID != "" {
		if active, _ := s.manager.Active(); active != req.ConnectionID {
			if err := s.manager.Activate(ctx, req.ConnectionID); err != nil {
				respondError(c, err)
				return
			}
			s.logger.Info("activated connection for query", "connection_id", req.ConnectionID)
		}
	}

	runID, stream, err := s.runner.Start(ctx, strings.TrimSpace(req.Question))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("X-Run-Id", runID)

	result, failure := collectRun(stream)
	if result == nil {
		if failure == "" {
			failure = "run produced no result"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": failure})
		return
	}
	c.JSON(http.StatusOK, result)
}
