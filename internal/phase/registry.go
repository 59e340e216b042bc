package phase

import (
	"encoding/json"
	"fmt"

	"EnrichmentRelay/internal/domain"
)

// Mapper translates one phase's payload into that phase's column assignments.
type Mapper interface {
	Phase() domain.Phase
	// Columns lists every column the mapper writes, in write order.
	Columns() []string
	Map(payload json.RawMessage) ([]domain.Column, error)
}

// Registry keeps a mapping from phase names to their mappers.
type Registry struct {
	mappers map[domain.Phase]Mapper
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappers: map[domain.Phase]Mapper{}}
}

// DefaultRegistry returns a registry with the profile, metrics and ai mappers.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(ProfileMapper{})
	reg.Register(MetricsMapper{})
	reg.Register(AIMapper{})
	return reg
}

// Register adds or replaces a mapper implementation.
func (r *Registry) Register(mapper Mapper) {
	if r.mappers == nil {
		r.mappers = map[domain.Phase]Mapper{}
	}
	r.mappers[mapper.Phase()] = mapper
}

// Resolve returns a mapper by phase or an error if it is absent.
func (r *Registry) Resolve(p domain.Phase) (Mapper, error) {
	if mapper, ok := r.mappers[p]; ok {
		return mapper, nil
	}
	return nil, fmt.Errorf("phase %s: %w", p, domain.ErrUnknownPhase)
}
