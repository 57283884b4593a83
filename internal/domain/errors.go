package domain

import (
	"errors"
	"fmt"
)

var ErrAlreadyStarted = errors.New("broadcaster already started")

// BindError reports that a listening socket could not be bound. The server
// that returned it holds no resources.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid or unsupported configuration value.
// It is raised before anything is started.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
