// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (broadcaster.go, state.go, mode.go, errors.go) hold the
// shared contracts between the payload source, the broadcasters and the supervisor.
// No implementation code - just contracts.
package domain
