// Package sessionstore defines the persistence boundary for intake calls.
//
// A conversation session is created once per call and accumulates the
// caller's answers as a flat map of field key to value (string or bool).
// Keys are added and never removed; saving a key again overwrites it. The
// session also carries an append-only transcript and is finalized when the
// call ends.
//
// Implementations live in sub-packages: httpapi talks to the clinic backend,
// postgres writes the same table the backend owns, and mock keeps everything
// in memory. The outbox sub-package records writes none of them could take.
//
// Every implementation must be safe for concurrent use.
package sessionstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session ID is unknown to the store.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store persists conversation sessions.
type Store interface {
	// CreateSession opens a session for tenantID and returns its ID.
	CreateSession(ctx context.Context, tenantID string) (string, error)

	// SaveAnswer sets field to value on the session. Saving the same field
	// twice with the same value is a no-op.
	SaveAnswer(ctx context.Context, sessionID, field string, value any) error

	// GetCollectedData returns every saved field of the session.
	GetCollectedData(ctx context.Context, sessionID string) (map[string]any, error)

	// AppendTranscript appends one line to the session transcript.
	AppendTranscript(ctx context.Context, sessionID, line string) error

	// FinalizeSession marks the session completed.
	FinalizeSession(ctx context.Context, sessionID string) error
}

// Pinger is implemented by stores that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
