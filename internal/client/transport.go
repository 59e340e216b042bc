package client

import (
	"context"

	"EnrichmentRelay/internal/sse"
)

// Target names the subject to enrich and the owner whose record receives the results.
type Target struct {
	Subject string
	OwnerID string
}

// Valid reports whether both parts of the target are present.
func (t Target) Valid() bool {
	return t.Subject != "" && t.OwnerID != ""
}

// Transport opens a one-way event subscription against the relay.
type Transport interface {
	Open(ctx context.Context, target Target) (Stream, error)
}

// Stream is one open subscription. Frames is closed when the stream drops or
// is closed; Err then reports why, or nil after Close.
type Stream interface {
	Frames() <-chan sse.Frame
	Err() error
	Close() error
}
