package domain

import "context"

// PayloadSource produces the next outgoing text line. Implementations must be
// safe for concurrent use; every broadcaster calls Next independently.
type PayloadSource interface {
	Next() string
}

// PayloadFunc adapts a plain function to PayloadSource.
type PayloadFunc func() string

func (f PayloadFunc) Next() string { return f() }

// Broadcaster delivers payload lines over one transport until stopped.
//
// Start blocks until the broadcaster has stopped (via Stop or ctx cancellation)
// and returns nil on a clean stop. A start failure (for example a BindError) is
// returned immediately. Stop is idempotent and safe to call from any goroutine,
// including before Start.
type Broadcaster interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}
