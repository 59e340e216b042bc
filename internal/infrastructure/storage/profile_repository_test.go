package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/phase"
)

func openTestRepository(t *testing.T) *ProfileRepository {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := NewProfileRepository(db, DriverSQLite)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

var phasePayloads = map[domain.Phase]string{
	domain.PhaseProfile: `{"followers":1200,"bio":"x","profilePicture":null}`,
	domain.PhaseMetrics: `{"engagementRate":0.042,"avgViews":15000,"avgLikes":620,"avgComments":31,"postsPerWeek":4,"postTypeMix":{"reel":0.75,"image":0.25},"sampleSize":24}`,
	domain.PhaseAI:      `{"contentThemes":["cooking","travel"],"subNiches":["street food"],"primaryLanguage":"en","displayLocation":"London, UK","countryCode":"GB"}`,
}

func upsertPayload(repo *ProfileRepository, owner string, p domain.Phase, payload string, at time.Time) error {
	mapper, err := phase.DefaultRegistry().Resolve(p)
	if err != nil {
		return err
	}
	cols, err := mapper.Map(json.RawMessage(payload))
	if err != nil {
		return err
	}
	return repo.UpsertPhase(context.Background(), domain.PhaseUpdate{
		OwnerID: owner, Phase: p, Columns: cols, UpdatedAt: at,
	})
}

func applyPhase(t *testing.T, repo *ProfileRepository, owner string, p domain.Phase, payload string, at time.Time) {
	t.Helper()

	if err := upsertPayload(repo, owner, p, payload, at); err != nil {
		t.Fatalf("apply %s: %v", p, err)
	}
}

func ptr[T any](v T) *T { return &v }

func expectedRecord(owner string, at time.Time) domain.ProfileRecord {
	return domain.ProfileRecord{
		OwnerID: owner,
		Profile: domain.ProfileFields{
			Followers: ptr(int64(1200)),
			Bio:       ptr("x"),
		},
		Metrics: domain.MetricsFields{
			EngagementRate: ptr(0.042),
			AvgViews:       ptr(15000.0),
			AvgLikes:       ptr(620.0),
			AvgComments:    ptr(31.0),
			PostsPerWeek:   ptr(4.0),
			PostTypeMix:    map[string]float64{"reel": 0.75, "image": 0.25},
			SampleSize:     ptr(int64(24)),
		},
		AI: domain.AIFields{
			ContentThemes:   []string{"cooking", "travel"},
			SubNiches:       []string{"street food"},
			PrimaryLanguage: ptr("en"),
			DisplayLocation: ptr("London, UK"),
			CountryCode:     ptr("GB"),
			PrimaryNiche:    ptr("cooking"),
		},
		UpdatedAt: at,
	}
}

func TestUpsertPhaseIsolationInAnyOrder(t *testing.T) {
	t.Parallel()

	orders := [][]domain.Phase{
		{domain.PhaseProfile, domain.PhaseMetrics, domain.PhaseAI},
		{domain.PhaseProfile, domain.PhaseAI, domain.PhaseMetrics},
		{domain.PhaseMetrics, domain.PhaseProfile, domain.PhaseAI},
		{domain.PhaseMetrics, domain.PhaseAI, domain.PhaseProfile},
		{domain.PhaseAI, domain.PhaseProfile, domain.PhaseMetrics},
		{domain.PhaseAI, domain.PhaseMetrics, domain.PhaseProfile},
	}

	repo := openTestRepository(t)
	base := time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC)

	for i, order := range orders {
		owner := fmt.Sprintf("owner-%d", i)
		var last time.Time
		for j, p := range order {
			last = base.Add(time.Duration(j) * time.Second)
			applyPhase(t, repo, owner, p, phasePayloads[p], last)
		}

		got, err := repo.Get(context.Background(), owner)
		if err != nil {
			t.Fatalf("get %s: %v", owner, err)
		}
		if diff := cmp.Diff(expectedRecord(owner, last), got); diff != "" {
			t.Fatalf("order %v mismatch:\n%s", order, diff)
		}
	}
}

func TestUpsertPhaseReplacesGroupWholesale(t *testing.T) {
	t.Parallel()

	repo := openTestRepository(t)
	at := time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC)

	applyPhase(t, repo, "u1", domain.PhaseMetrics, phasePayloads[domain.PhaseMetrics], at)
	applyPhase(t, repo, "u1", domain.PhaseProfile, phasePayloads[domain.PhaseProfile], at)
	// A later metrics phase without most keys clears them instead of merging.
	applyPhase(t, repo, "u1", domain.PhaseMetrics, `{"avgViews":10}`, at.Add(time.Minute))

	got, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	want := domain.MetricsFields{AvgViews: ptr(10.0)}
	if diff := cmp.Diff(want, got.Metrics); diff != "" {
		t.Fatalf("metrics mismatch:\n%s", diff)
	}
	if got.Profile.Followers == nil || *got.Profile.Followers != 1200 {
		t.Fatalf("profile group must be untouched by metrics, got %+v", got.Profile)
	}
	if !got.UpdatedAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("expected timestamp bump, got %v", got.UpdatedAt)
	}
}

func TestUpsertPhaseConcurrentPhasesSameOwner(t *testing.T) {
	t.Parallel()

	repo := openTestRepository(t)
	at := time.Date(2026, time.October, 19, 11, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, len(domain.Phases))
	for _, p := range domain.Phases {
		wg.Add(1)
		go func(p domain.Phase) {
			defer wg.Done()
			errs <- upsertPayload(repo, "u1", p, phasePayloads[p], at)
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}

	got, err := repo.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(expectedRecord("u1", at), got); diff != "" {
		t.Fatalf("record mismatch:\n%s", diff)
	}
}

func TestGetMissingOwner(t *testing.T) {
	t.Parallel()

	repo := openTestRepository(t)
	if _, err := repo.Get(context.Background(), "nobody"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	t.Parallel()

	if _, err := NewProfileRepository(nil, "mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
