package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a row that does not exist (empty select result).
	ErrNotFound = errors.New("not found")

	// ErrNotConnected indicates an operation was attempted before Connect.
	ErrNotConnected = errors.New("session not connected")
)

// ConfigError indicates missing or malformed credentials. It is always
// raised before any network call is made.
type ConfigError struct {
	Field  string // "endpoint" or "api_key"
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// RemoteError indicates a transport or query failure against the backend.
// Status is the HTTP status code, or 0 when the request never completed.
type RemoteError struct {
	Op     string // e.g. "select app_data", "upsert app_data"
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
