package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/testutil"
)

func createTestUser(t *testing.T, repo *repository.SQLiteUserRepository) models.User {
	t.Helper()
	user, err := repo.Create(context.Background(), models.User{
		OIDCSubject: "sub-" + time.Now().String(),
		Email:       "test@example.com",
		Name:        "Test User",
		Role:        models.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return user
}

func float(value float64) *float64 {
	return &value
}

func TestDeviationRepository_RoundTrip(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	user := createTestUser(t, repository.NewUserRepository(db))
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	workoutID := "workout-42"
	created, err := repo.Create(ctx, models.Deviation{
		UserID:           user.ID,
		Type:             models.DeviationShortenedWorkout,
		Reason:           models.ReasonEnergy,
		RelatedWorkoutID: &workoutID,
		Impact: models.Impact{
			Calories: float(-123.456789),
			Protein:  float(0.1),
			Budget:   float(12.34),
		},
		Notes: "legs were sore",
	})
	if err != nil {
		t.Fatalf("creating deviation: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	found, err := repo.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("finding deviation: %v", err)
	}

	if found.Type != models.DeviationShortenedWorkout {
		t.Errorf("expected type shortened_workout, got %q", found.Type)
	}
	if found.Reason != models.ReasonEnergy {
		t.Errorf("expected reason energy, got %q", found.Reason)
	}
	if found.RelatedWorkoutID == nil || *found.RelatedWorkoutID != workoutID {
		t.Errorf("expected related workout %q, got %v", workoutID, found.RelatedWorkoutID)
	}
	if found.RelatedMealID != nil {
		t.Errorf("expected no related meal, got %v", *found.RelatedMealID)
	}
	if found.Impact.Calories == nil || *found.Impact.Calories != -123.456789 {
		t.Errorf("calories delta not preserved: %v", found.Impact.Calories)
	}
	if found.Impact.Protein == nil || *found.Impact.Protein != 0.1 {
		t.Errorf("protein delta not preserved: %v", found.Impact.Protein)
	}
	if found.Impact.Budget == nil || *found.Impact.Budget != 12.34 {
		t.Errorf("budget delta not preserved: %v", found.Impact.Budget)
	}
	if !found.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("expected created_at %s, got %s", created.CreatedAt, found.CreatedAt)
	}
}

func TestDeviationRepository_NilImpactStaysNil(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	user := createTestUser(t, repository.NewUserRepository(db))
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, models.Deviation{
		UserID: user.ID,
		Type:   models.DeviationDiningOut,
		Reason: models.ReasonDiningOut,
	})
	if err != nil {
		t.Fatalf("creating deviation: %v", err)
	}

	found, _ := repo.FindByID(ctx, created.ID)
	if found.Impact.Calories != nil || found.Impact.Protein != nil || found.Impact.Budget != nil {
		t.Errorf("expected empty impact, got %+v", found.Impact)
	}
}

func TestDeviationRepository_FindInWindowBounds(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	user := createTestUser(t, repository.NewUserRepository(db))
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	asOf := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	from := asOf.Add(-7 * 24 * time.Hour)

	timestamps := []time.Time{
		from.Add(-time.Second),
		from,
		asOf.Add(-time.Nanosecond),
		asOf,
	}
	for _, ts := range timestamps {
		if _, err := repo.Create(ctx, models.Deviation{
			UserID: user.ID, Type: models.DeviationSkippedWorkout, Reason: models.ReasonTime, CreatedAt: ts,
		}); err != nil {
			t.Fatalf("creating deviation: %v", err)
		}
	}

	found, err := repo.FindInWindow(ctx, user.ID, from, asOf)
	if err != nil {
		t.Fatalf("finding deviations: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 deviations in [from, asOf), got %d", len(found))
	}
	if !found[0].CreatedAt.Equal(from) {
		t.Errorf("expected oldest first, got %s", found[0].CreatedAt)
	}
}

func TestDeviationRepository_WindowIgnoresOtherUsers(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	userRepo := repository.NewUserRepository(db)
	alice := createTestUser(t, userRepo)
	bob := createTestUser(t, userRepo)
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	now := time.Now()
	repo.Create(ctx, models.Deviation{UserID: alice.ID, Type: models.DeviationMissedMeal, Reason: models.ReasonTime, CreatedAt: now.Add(-time.Hour)})
	repo.Create(ctx, models.Deviation{UserID: bob.ID, Type: models.DeviationMissedMeal, Reason: models.ReasonTime, CreatedAt: now.Add(-time.Hour)})

	found, err := repo.FindInWindow(ctx, alice.ID, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("finding deviations: %v", err)
	}
	if len(found) != 1 || found[0].UserID != alice.ID {
		t.Errorf("expected only alice's deviation, got %+v", found)
	}
}

func TestDeviationRepository_IdempotencyKeyIsUniquePerUser(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	user := createTestUser(t, repository.NewUserRepository(db))
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	key := "client-key-1"
	first, err := repo.Create(ctx, models.Deviation{
		UserID: user.ID, Type: models.DeviationMissedMeal, Reason: models.ReasonTime, IdempotencyKey: &key,
	})
	if err != nil {
		t.Fatalf("creating deviation: %v", err)
	}

	if _, err := repo.Create(ctx, models.Deviation{
		UserID: user.ID, Type: models.DeviationMissedMeal, Reason: models.ReasonTime, IdempotencyKey: &key,
	}); !repository.IsConstraintViolation(err) {
		t.Fatalf("expected duplicate idempotency key to be rejected as a constraint violation, got %v", err)
	}

	found, err := repo.FindByIdempotencyKey(ctx, user.ID, key)
	if err != nil {
		t.Fatalf("finding by idempotency key: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("expected %s, got %s", first.ID, found.ID)
	}

	_, err = repo.FindByIdempotencyKey(ctx, user.ID, "unknown")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for unknown key, got %v", err)
	}
}

func TestDeviationRepository_FindRecentNewestFirst(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	user := createTestUser(t, repository.NewUserRepository(db))
	repo := repository.NewDeviationRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		repo.Create(ctx, models.Deviation{
			UserID: user.ID, Type: models.DeviationSkippedWorkout, Reason: models.ReasonTime,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	found, err := repo.FindRecent(ctx, user.ID, base, 2)
	if err != nil {
		t.Fatalf("finding recent: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 deviations, got %d", len(found))
	}
	if !found[0].CreatedAt.After(found[1].CreatedAt) {
		t.Error("expected newest first")
	}
}
