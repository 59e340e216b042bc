package usecase

import (
	"context"
	"fmt"
	"time"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/phase"
	"EnrichmentRelay/internal/ports"
)

// PersistenceSink writes exactly one phase's field group plus the record timestamp.
type PersistenceSink struct {
	registry   *phase.Registry
	repository ports.ProfileRepository
	now        func() time.Time
}

var _ ports.PhaseSink = (*PersistenceSink)(nil)

// NewPersistenceSink wires the phase registry with a repository; now defaults to time.Now.
func NewPersistenceSink(registry *phase.Registry, repository ports.ProfileRepository, now func() time.Time) *PersistenceSink {
	if registry == nil {
		registry = phase.DefaultRegistry()
	}
	if now == nil {
		now = time.Now
	}
	return &PersistenceSink{registry: registry, repository: repository, now: now}
}

// Apply maps the payload to the phase's columns and upserts them by owner.
func (s *PersistenceSink) Apply(ctx context.Context, ownerID string, event domain.PhaseEvent) error {
	if ownerID == "" {
		return fmt.Errorf("apply %s: %w: owner id", event.Phase, ErrMissingParameter)
	}
	if s.repository == nil {
		return fmt.Errorf("apply %s: repository is not configured", event.Phase)
	}

	mapper, err := s.registry.Resolve(event.Phase)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	columns, err := mapper.Map(event.Data)
	if err != nil {
		return fmt.Errorf("map %s payload: %w", event.Phase, err)
	}

	update := domain.PhaseUpdate{
		OwnerID:   ownerID,
		Phase:     event.Phase,
		Columns:   columns,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.repository.UpsertPhase(ctx, update); err != nil {
		return fmt.Errorf("upsert %s phase: %w", event.Phase, err)
	}
	return nil
}
