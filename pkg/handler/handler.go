// Package handler defines the uniform query contract over heterogeneous data
// backends and the registry/factory that creates handler instances from
// connection configs.
//
// Every backend kind (relational engines, the document store, REST APIs
// exposed as virtual tables) implements the same Handler interface. Failures
// inside Execute never surface as Go errors: they come back as a QueryResult
// with Success=false and an error string, so the orchestrator can treat every
// step outcome uniformly. Connect, Schema and Test return errors in the
// ordinary way because they are management operations, not plan steps.
package handler

import "context"

// Kind identifies how a handler talks to its upstream.
type Kind string

// Supported backend kinds. Describe covers all of them; Make succeeds only
// for the installed set (redis, oracle and mssql are described for UI
// purposes but have no handler yet).
const (
	KindMySQL       Kind = "mysql"
	KindPostgreSQL  Kind = "postgresql"
	KindMongoDB     Kind = "mongodb"
	KindSQLite      Kind = "sqlite"
	KindKOSISAPI    Kind = "kosis_api"
	KindExternalAPI Kind = "external_api"

	KindRedis  Kind = "redis"
	KindOracle Kind = "oracle"
	KindMSSQL  Kind = "mssql"
)

// Handler is the uniform query contract every backend implements.
//
// Implementations must be safe for concurrent use once Connect has returned:
// the orchestrator reuses one handler instance across requests.
type Handler interface {
	// Kind reports the backend kind this handler serves.
	Kind() Kind

	// Connect establishes the upstream connection (or pool). Wraps
	// ErrConnectFailed on failure.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect(ctx context.Context) error

	// Test performs a cheap round-trip and reports latency and the backend
	// version string. Backend-side failures land in the result; only state
	// errors (handler not connected) come back as Go errors.
	Test(ctx context.Context) (*TestResult, error)

	// Schema introspects the backend. With includeColumns=false the handler
	// must not issue per-column metadata queries; it returns a fast table
	// list with namespaces and row-count estimates where the backend offers
	// them cheaply.
	Schema(ctx context.Context, includeColumns bool) (*SchemaSnapshot, error)

	// Execute runs one query. Failures are reported in the result, never as
	// a Go error.
	Execute(ctx context.Context, query string, params map[string]any) *QueryResult

	// SupportedOperations lists the verbs this backend accepts. Informational.
	SupportedOperations() []string
}

// TestResult reports the outcome of a connectivity probe.
type TestResult struct {
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}
