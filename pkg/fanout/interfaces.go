// --- File: pkg/fanout/interfaces.go ---
package fanout

import (
	"context"
	"time"
)

// Envelope is a transport-ready message for exactly one platform.
// Implementations live in internal/message.
type Envelope interface {
	Platform() Platform
}

// Transport delivers one envelope to one device token through a platform gateway.
// Implementations must be safe for concurrent use and enforce their own per-call timeout.
type Transport interface {
	// Send returns the provider message id, or an error (preferably a *TransportError).
	Send(ctx context.Context, token string, env Envelope) (string, error)
}

// Recorder persists delivery history records.
type Recorder interface {
	Record(ctx context.Context, result *Result, ownerID, title, body string, target Target) (string, error)
	// ListRecent returns the owner's most recent records, newest first.
	ListRecent(ctx context.Context, ownerID string, limit int) ([]Record, error)
	// CountSince counts the owner's records created at or after since.
	CountSince(ctx context.Context, ownerID string, since time.Time) (int, error)
}

// TokenRegistry supplies an already-filtered snapshot of active, opted-in tokens.
type TokenRegistry interface {
	Snapshot(ctx context.Context, target Target) (TokensByPlatform, error)
}
