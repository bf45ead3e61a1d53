package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadwin95/Text2SQLAgent/pkg/agent"
	"github.com/cadwin95/Text2SQLAgent/pkg/connection"
	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
	"github.com/cadwin95/Text2SQLAgent/pkg/masking"
)

// statusFromError maps manager, handler and agent errors to HTTP statuses.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, connection.ErrNotFound), errors.Is(err, agent.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, connection.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, handler.ErrConfigInvalid), errors.Is(err, handler.ErrUnsupportedKind):
		return http.StatusBadRequest
	case errors.Is(err, connection.ErrNotConnected), errors.Is(err, handler.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, handler.ErrConnectFailed):
		return http.StatusBadGateway
	case errors.Is(err, agent.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the mapped status with the scrubbed message. Connect
// failures can echo a DSN, so every message passes through the masker.
func respondError(c *gin.Context, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		slog.Error("unexpected API error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, gin.H{"error": masking.Scrub(err.Error())})
}
