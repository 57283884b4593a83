package domain

// ServerState is the lifecycle state of a connection server.
type ServerState int32

const (
	StateStopped ServerState = iota
	StateListening
	StateShuttingDown
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
