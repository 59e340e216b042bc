package ports

import (
	"context"
	"io"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/sse"
)

// EnrichmentSource opens the upstream event stream for one subject.
type EnrichmentSource interface {
	Open(ctx context.Context, subject, requestID string) (io.ReadCloser, error)
}

// ProfileRepository is the only mutation path of the per-owner profile record.
type ProfileRepository interface {
	UpsertPhase(ctx context.Context, update domain.PhaseUpdate) error
	Get(ctx context.Context, ownerID string) (domain.ProfileRecord, error)
}

// PhaseSink applies one phase's payload to the owner's record.
type PhaseSink interface {
	Apply(ctx context.Context, ownerID string, event domain.PhaseEvent) error
}

// PhaseDispatcher hands phase events to persistence without blocking the caller.
type PhaseDispatcher interface {
	Dispatch(ownerID string, event domain.PhaseEvent)
}

// Downstream is the client-facing side of one relay request.
type Downstream interface {
	// Open commits the stream response. Frames may only be written after Open.
	Open() error
	WriteFrame(frame sse.Frame) error
}

// RelayMetrics receives relay counters. Implementations must be safe for concurrent use.
type RelayMetrics interface {
	StreamStarted()
	StreamFinished(reason string)
	FrameForwarded(event string)
	DecodeFailed()
	PersistenceResult(phase domain.Phase, err error)
	UpstreamFailed()
}
