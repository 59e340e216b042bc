package phase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"EnrichmentRelay/internal/domain"
)

// Column names of the enrichment_profiles table, grouped by owning phase.
const (
	ColFollowers      = "followers"
	ColBio            = "bio"
	ColProfilePicture = "profile_picture"

	ColEngagementRate = "engagement_rate"
	ColAvgViews       = "avg_views"
	ColAvgLikes       = "avg_likes"
	ColAvgComments    = "avg_comments"
	ColPostsPerWeek   = "posts_per_week"
	ColPostTypeMix    = "post_type_mix"
	ColSampleSize     = "sample_size"

	ColContentThemes   = "content_themes"
	ColSubNiches       = "sub_niches"
	ColPrimaryLanguage = "primary_language"
	ColDisplayLocation = "display_location"
	ColCountryCode     = "country_code"
	ColPrimaryNiche    = "primary_niche"
)

// ProfileMapper owns follower count, bio and avatar URL.
type ProfileMapper struct{}

var _ Mapper = ProfileMapper{}

func (ProfileMapper) Phase() domain.Phase { return domain.PhaseProfile }

func (ProfileMapper) Columns() []string {
	return []string{ColFollowers, ColBio, ColProfilePicture}
}

func (m ProfileMapper) Map(payload json.RawMessage) ([]domain.Column, error) {
	fields, err := DecodeProfile(payload)
	if err != nil {
		return nil, err
	}
	return []domain.Column{
		{Name: ColFollowers, Value: nullable(fields.Followers)},
		{Name: ColBio, Value: nullable(fields.Bio)},
		{Name: ColProfilePicture, Value: nullable(fields.ProfilePicture)},
	}, nil
}

// DecodeProfile decodes a profile payload. Values are kept exactly as received.
func DecodeProfile(payload json.RawMessage) (domain.ProfileFields, error) {
	var fields domain.ProfileFields
	if err := decode(payload, &fields); err != nil {
		return domain.ProfileFields{}, fmt.Errorf("profile payload: %w", err)
	}
	return fields, nil
}

// MetricsMapper owns the engagement statistics.
type MetricsMapper struct{}

var _ Mapper = MetricsMapper{}

func (MetricsMapper) Phase() domain.Phase { return domain.PhaseMetrics }

func (MetricsMapper) Columns() []string {
	return []string{
		ColEngagementRate, ColAvgViews, ColAvgLikes, ColAvgComments,
		ColPostsPerWeek, ColPostTypeMix, ColSampleSize,
	}
}

func (m MetricsMapper) Map(payload json.RawMessage) ([]domain.Column, error) {
	fields, err := DecodeMetrics(payload)
	if err != nil {
		return nil, err
	}
	mix, err := jsonColumn(fields.PostTypeMix, fields.PostTypeMix == nil)
	if err != nil {
		return nil, fmt.Errorf("post type mix: %w", err)
	}
	return []domain.Column{
		{Name: ColEngagementRate, Value: nullable(fields.EngagementRate)},
		{Name: ColAvgViews, Value: nullable(fields.AvgViews)},
		{Name: ColAvgLikes, Value: nullable(fields.AvgLikes)},
		{Name: ColAvgComments, Value: nullable(fields.AvgComments)},
		{Name: ColPostsPerWeek, Value: nullable(fields.PostsPerWeek)},
		{Name: ColPostTypeMix, Value: mix},
		{Name: ColSampleSize, Value: nullable(fields.SampleSize)},
	}, nil
}

// DecodeMetrics decodes a metrics payload.
func DecodeMetrics(payload json.RawMessage) (domain.MetricsFields, error) {
	var fields domain.MetricsFields
	if err := decode(payload, &fields); err != nil {
		return domain.MetricsFields{}, fmt.Errorf("metrics payload: %w", err)
	}
	return fields, nil
}

// AIMapper owns the model-derived classification fields.
type AIMapper struct{}

var _ Mapper = AIMapper{}

func (AIMapper) Phase() domain.Phase { return domain.PhaseAI }

func (AIMapper) Columns() []string {
	return []string{
		ColContentThemes, ColSubNiches, ColPrimaryLanguage,
		ColDisplayLocation, ColCountryCode, ColPrimaryNiche,
	}
}

func (m AIMapper) Map(payload json.RawMessage) ([]domain.Column, error) {
	fields, err := DecodeAI(payload)
	if err != nil {
		return nil, err
	}
	themes, err := jsonColumn(fields.ContentThemes, fields.ContentThemes == nil)
	if err != nil {
		return nil, fmt.Errorf("content themes: %w", err)
	}
	niches, err := jsonColumn(fields.SubNiches, fields.SubNiches == nil)
	if err != nil {
		return nil, fmt.Errorf("sub niches: %w", err)
	}
	return []domain.Column{
		{Name: ColContentThemes, Value: themes},
		{Name: ColSubNiches, Value: niches},
		{Name: ColPrimaryLanguage, Value: nullable(fields.PrimaryLanguage)},
		{Name: ColDisplayLocation, Value: nullable(fields.DisplayLocation)},
		{Name: ColCountryCode, Value: nullable(fields.CountryCode)},
		{Name: ColPrimaryNiche, Value: nullable(fields.PrimaryNiche)},
	}, nil
}

// DecodeAI decodes an ai payload and derives the primary niche from the first theme.
func DecodeAI(payload json.RawMessage) (domain.AIFields, error) {
	var fields domain.AIFields
	if err := decode(payload, &fields); err != nil {
		return domain.AIFields{}, fmt.Errorf("ai payload: %w", err)
	}
	fields.PrimaryNiche = nil
	if len(fields.ContentThemes) > 0 {
		niche := fields.ContentThemes[0]
		fields.PrimaryNiche = &niche
	}
	return fields, nil
}

// decode treats a missing or null payload as an empty object so every field clears.
func decode(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func jsonColumn(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
