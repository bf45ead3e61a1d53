// Package api exposes the HTTP surface: an OpenAI-compatible chat endpoint
// that streams agent runs as server-sent events, REST endpoints for managing
// database connections, and a direct natural-language query endpoint.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadwin95/Text2SQLAgent/pkg/agent"
	"github.com/cadwin95/Text2SQLAgent/pkg/connection"
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/version"
)

// Server holds the dependencies shared by all HTTP handlers.
type Server struct {
	logger       *slog.Logger
	manager      *connection.Manager
	factory      *handler.Factory
	runner       *agent.Runner
	model        string
	queryTimeout time.Duration
	started      time.Time
}

// NewServer wires the HTTP handlers. model is the name reported by
// /v1/models and echoed in chat completion responses; queryTimeout caps
// each direct query execute (<= 0 leaves it unbounded).
func NewServer(logger *slog.Logger, manager *connection.Manager, factory *handler.Factory, runner *agent.Runner, model string, queryTimeout time.Duration) *Server {
	return &Server{
		logger:       logger,
		manager:      manager,
		factory:      factory,
		runner:       runner,
		model:        model,
		queryTimeout: queryTimeout,
		started:      time.Now(),
	}
}

// Router builds the gin engine with middleware and all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(Recovery(s.logger))
	router.Use(RequestLogger(s.logger))
	router.Use(CORS())

	router.GET("/health", s.health)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", s.chatCompletions)
		v1.GET("/models", s.listModels)
	}

	db := router.Group("/api/database")
	{
		db.GET("/supported", s.listSupported)
		db.GET("/connections", s.listConnections)
		db.POST("/connections", s.createConnection)
		db.PUT("/connections/:id", s.updateConnection)
		db.DELETE("/connections/:id", s.deleteConnection)
		db.POST("/connections/test", s.testConnection)
		db.POST("/connections/:id/activate", s.activateConnection)
		db.POST("/connections/:id/deactivate", s.deactivateConnection)
		db.POST("/connections/:id/refresh", s.refreshConnection)
		db.GET("/connections/:id/schema", s.connectionSchema)
		db.GET("/schema", s.activeSchema)
		db.POST("/query", s.executeQuery)
		db.GET("/status", s.managerStatus)
		db.GET("/history", s.connectionHistory)
	}

	router.POST("/api/query", s.naturalQuery)

	return router
}

// health reports liveness plus a summary of each component.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        version.Full(),
		"model":          s.model,
		"connections":    s.manager.Status(),
		"active_runs":    s.runner.Active(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
