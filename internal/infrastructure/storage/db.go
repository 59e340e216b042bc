package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS enrichment_profiles (
	owner_id         TEXT PRIMARY KEY,
	followers        BIGINT,
	bio              TEXT,
	profile_picture  TEXT,
	engagement_rate  DOUBLE PRECISION,
	avg_views        DOUBLE PRECISION,
	avg_likes        DOUBLE PRECISION,
	avg_comments     DOUBLE PRECISION,
	posts_per_week   DOUBLE PRECISION,
	post_type_mix    TEXT,
	sample_size      BIGINT,
	content_themes   TEXT,
	sub_niches       TEXT,
	primary_language TEXT,
	display_location TEXT,
	country_code     TEXT,
	primary_niche    TEXT,
	updated_at       BIGINT NOT NULL
)`

// Open connects to the configured database and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}
	if _, err := placeholderFor(driver); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time keeps concurrent phase upserts off SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the profile table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func placeholderFor(driver string) (sq.PlaceholderFormat, error) {
	switch driver {
	case DriverSQLite:
		return sq.Question, nil
	case DriverPostgres:
		return sq.Dollar, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
