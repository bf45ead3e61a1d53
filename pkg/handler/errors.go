package handler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigInvalid indicates a connection config is missing required
	// fields or violates a field validator.
	ErrConfigInvalid = errors.New("invalid connection config")

	// ErrUnsupportedKind indicates a config names a backend kind for which
	// no handler is installed.
	ErrUnsupportedKind = errors.New("unsupported backend kind")

	// ErrConnectFailed indicates the handler could not reach its backend.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected indicates an operation that needs a live connection
	// was attempted before Connect (or after Disconnect).
	ErrNotConnected = errors.New("not connected")
)

// ConfigError wraps ErrConfigInvalid with the backend kind and the offending
// field names.
type ConfigError struct {
	Kind   Kind
	Fields []string
	Err    error
}

// Error returns the formatted message listing the offending fields.
func (e *ConfigError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s config: %v: %s", e.Kind, e.Err, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s config: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func newConfigError(kind Kind, fields ...string) *ConfigError {
	return &ConfigError{Kind: kind, Fields: fields, Err: ErrConfigInvalid}
}
