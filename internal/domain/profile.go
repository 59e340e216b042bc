package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Phase names one enrichment stage. Each phase owns a disjoint group of record fields.
type Phase string

const (
	PhaseProfile Phase = "profile"
	PhaseMetrics Phase = "metrics"
	PhaseAI      Phase = "ai"
)

// Phases lists every known phase in upstream emission order.
var Phases = []Phase{PhaseProfile, PhaseMetrics, PhaseAI}

// ErrUnknownPhase is returned when a payload names a phase outside Phases.
var ErrUnknownPhase = errors.New("unknown phase")

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// PhaseEvent is the decoded data of a phase frame. It is applied and then discarded.
type PhaseEvent struct {
	Phase    Phase           `json:"phase"`
	Progress int             `json:"progress"`
	Data     json.RawMessage `json:"data"`
}

// DecodePhaseEvent parses the data value of a phase frame.
func DecodePhaseEvent(data string) (PhaseEvent, error) {
	var event PhaseEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return PhaseEvent{}, fmt.Errorf("decode phase event: %w", err)
	}
	if !event.Phase.Valid() {
		return PhaseEvent{}, fmt.Errorf("decode phase event: %w %q", ErrUnknownPhase, event.Phase)
	}
	return event, nil
}

// PhaseError is the in-stream error notification sent by upstream or by the relay.
type PhaseError struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// DecodePhaseError parses the data value of an error frame.
func DecodePhaseError(data string) (PhaseError, error) {
	var perr PhaseError
	if err := json.Unmarshal([]byte(data), &perr); err != nil {
		return PhaseError{}, fmt.Errorf("decode phase error: %w", err)
	}
	return perr, nil
}

// ProfileFields is the field group written by the profile phase.
type ProfileFields struct {
	Followers      *int64  `json:"followers"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
}

// MetricsFields is the field group written by the metrics phase.
type MetricsFields struct {
	EngagementRate *float64           `json:"engagementRate"`
	AvgViews       *float64           `json:"avgViews"`
	AvgLikes       *float64           `json:"avgLikes"`
	AvgComments    *float64           `json:"avgComments"`
	PostsPerWeek   *float64           `json:"postsPerWeek"`
	PostTypeMix    map[string]float64 `json:"postTypeMix"`
	SampleSize     *int64             `json:"sampleSize"`
}

// AIFields is the field group written by the ai phase. PrimaryNiche is derived from
// the first content theme and never read from the payload.
type AIFields struct {
	ContentThemes   []string `json:"contentThemes"`
	SubNiches       []string `json:"subNiches"`
	PrimaryLanguage *string  `json:"primaryLanguage"`
	DisplayLocation *string  `json:"displayLocation"`
	CountryCode     *string  `json:"countryCode"`
	PrimaryNiche    *string  `json:"-"`
}

// ProfileRecord is the durable per-owner enrichment result.
type ProfileRecord struct {
	OwnerID   string
	Profile   ProfileFields
	Metrics   MetricsFields
	AI        AIFields
	UpdatedAt time.Time
}

// Column is a single column assignment produced by a phase mapper.
type Column struct {
	Name  string
	Value any
}

// PhaseUpdate is the partial write issued for one phase of one owner.
type PhaseUpdate struct {
	OwnerID   string
	Phase     Phase
	Columns   []Column
	UpdatedAt time.Time
}

// ErrProfileNotFound is returned when no record exists for an owner.
var ErrProfileNotFound = errors.New("profile not found")
