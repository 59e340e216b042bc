package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/phase"
	"EnrichmentRelay/internal/ports"
)

const (
	profilesTable = "enrichment_profiles"
	colOwnerID    = "owner_id"
	colUpdatedAt  = "updated_at"
)

// ProfileRepository persists enrichment results, one row per owner.
type ProfileRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository wires a sql.DB opened with the given driver.
func NewProfileRepository(db *sql.DB, driver string) (*ProfileRepository, error) {
	format, err := placeholderFor(driver)
	if err != nil {
		return nil, err
	}
	return &ProfileRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
	}, nil
}

// UpsertPhase inserts the owner row or overwrites only the phase's columns and the timestamp.
func (r *ProfileRepository) UpsertPhase(ctx context.Context, update domain.PhaseUpdate) error {
	if r.db == nil {
		return fmt.Errorf("profile repository has no database")
	}
	if update.OwnerID == "" {
		return fmt.Errorf("upsert profile: empty owner id")
	}

	columns := make([]string, 0, len(update.Columns)+2)
	values := make([]any, 0, len(update.Columns)+2)
	assignments := make([]string, 0, len(update.Columns)+1)

	columns = append(columns, colOwnerID)
	values = append(values, update.OwnerID)
	for _, col := range update.Columns {
		columns = append(columns, col.Name)
		values = append(values, col.Value)
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", col.Name, col.Name))
	}
	columns = append(columns, colUpdatedAt)
	values = append(values, update.UpdatedAt.UnixMilli())
	assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", colUpdatedAt, colUpdatedAt))

	query, args, err := r.builder.
		Insert(profilesTable).
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT (" + colOwnerID + ") DO UPDATE SET " + strings.Join(assignments, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s phase: %w", update.Phase, err)
	}

	return nil
}

// Get loads the full record for an owner.
func (r *ProfileRepository) Get(ctx context.Context, ownerID string) (domain.ProfileRecord, error) {
	if r.db == nil {
		return domain.ProfileRecord{}, fmt.Errorf("profile repository has no database")
	}

	query, args, err := r.builder.
		Select(
			colOwnerID,
			phase.ColFollowers, phase.ColBio, phase.ColProfilePicture,
			phase.ColEngagementRate, phase.ColAvgViews, phase.ColAvgLikes, phase.ColAvgComments,
			phase.ColPostsPerWeek, phase.ColPostTypeMix, phase.ColSampleSize,
			phase.ColContentThemes, phase.ColSubNiches, phase.ColPrimaryLanguage,
			phase.ColDisplayLocation, phase.ColCountryCode, phase.ColPrimaryNiche,
			colUpdatedAt,
		).
		From(profilesTable).
		Where(sq.Eq{colOwnerID: ownerID}).
		ToSql()
	if err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("build select: %w", err)
	}

	var (
		rec                                                  domain.ProfileRecord
		followers, sampleSize                                sql.NullInt64
		bio, picture, mix, themes, niches                    sql.NullString
		language, location, country, primaryNiche            sql.NullString
		engagement, avgViews, avgLikes, avgComments, cadence sql.NullFloat64
		updatedAt                                            int64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.OwnerID,
		&followers, &bio, &picture,
		&engagement, &avgViews, &avgLikes, &avgComments,
		&cadence, &mix, &sampleSize,
		&themes, &niches, &language,
		&location, &country, &primaryNiche,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProfileRecord{}, fmt.Errorf("owner %s: %w", ownerID, domain.ErrProfileNotFound)
	}
	if err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("select profile: %w", err)
	}

	rec.Profile = domain.ProfileFields{
		Followers:      int64Ptr(followers),
		Bio:            stringPtr(bio),
		ProfilePicture: stringPtr(picture),
	}
	rec.Metrics = domain.MetricsFields{
		EngagementRate: floatPtr(engagement),
		AvgViews:       floatPtr(avgViews),
		AvgLikes:       floatPtr(avgLikes),
		AvgComments:    floatPtr(avgComments),
		PostsPerWeek:   floatPtr(cadence),
		SampleSize:     int64Ptr(sampleSize),
	}
	if err := decodeJSON(mix, &rec.Metrics.PostTypeMix); err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("decode %s: %w", phase.ColPostTypeMix, err)
	}
	rec.AI = domain.AIFields{
		PrimaryLanguage: stringPtr(language),
		DisplayLocation: stringPtr(location),
		CountryCode:     stringPtr(country),
		PrimaryNiche:    stringPtr(primaryNiche),
	}
	if err := decodeJSON(themes, &rec.AI.ContentThemes); err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("decode %s: %w", phase.ColContentThemes, err)
	}
	if err := decodeJSON(niches, &rec.AI.SubNiches); err != nil {
		return domain.ProfileRecord{}, fmt.Errorf("decode %s: %w", phase.ColSubNiches, err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return rec, nil
}

func decodeJSON(src sql.NullString, dst any) error {
	if !src.Valid {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
