// Package connection manages stored connection configurations and their
// live handlers. At most one connection is active at a time; the active
// connection is the default target for query execution.
package connection

import (
	"time"

	"github.com/cadwin95/Text2SQLAgent/pkg/handler"
)

// State is the lifecycle state of one connection.
type State string

const (
	// StateConfigured means the config is stored but no handler is live.
	StateConfigured State = "configured"
	// StateConnecting is the transient state while a handler connects.
	StateConnecting State = "connecting"
	// StateConnected means the handler is live but not the active target.
	StateConnected State = "connected"
	// StateActive means the handler is live and is the default target.
	StateActive State = "active"
	// StateError means the last connect attempt failed.
	StateError State = "error"
)

// Connection pairs a stored config with its runtime state.
type Connection struct {
	Config    handler.Config
	State     State
	Handler   handler.Handler
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Info is the read-only snapshot of a connection returned by listings.
type Info struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      handler.Kind `json:"kind"`
	State     State        `json:"state"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c *Connection) info() Info {
	return Info{
		ID:        c.Config.ID,
		Name:      c.Config.Name,
		Kind:      c.Config.Kind,
		State:     c.State,
		LastError: c.LastError,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// live reports whether the handler can serve schema and query calls.
func (c *Connection) live() bool {
	return c.Handler != nil && (c.State == StateConnected || c.State == StateActive)
}

// Event is one entry in the manager's lifecycle history.
type Event struct {
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	ConnectionID string    `json:"connection_id"`
	Detail       string    `json:"detail,omitempty"`
}

// Status summarises the manager for health and dashboard endpoints.
type Status struct {
	Total         int                  `json:"total"`
	ByKind        map[handler.Kind]int `json:"by_kind"`
	ByState       map[State]int        `json:"by_state"`
	ActiveID      string               `json:"active_id,omitempty"`
	UptimeSeconds int64                `json:"uptime_seconds"`
}
