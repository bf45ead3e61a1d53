package connection

import "errors"

var (
	// ErrNotFound means no connection exists with the given id.
	ErrNotFound = errors.New("connection not found")
	// ErrDuplicateID means a connection with the given id already exists.
	ErrDuplicateID = errors.New("connection id already exists")
	// ErrNotConnected means the connection has no live handler.
	ErrNotConnected = errors.New("connection is not connected")
)
