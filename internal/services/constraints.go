package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
)

var weekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true, "sun": true,
}

// ConstraintService reads and writes a user's standing plan configuration. It applies no policy.
type ConstraintService struct {
	constraintsRepo  repository.ConstraintsRepository
	defaultThreshold int
}

func NewConstraintService(constraintsRepo repository.ConstraintsRepository, defaultThreshold int) *ConstraintService {
	return &ConstraintService{
		constraintsRepo:  constraintsRepo,
		defaultThreshold: defaultThreshold,
	}
}

func (service *ConstraintService) Get(ctx context.Context, user models.User) (models.Constraints, error) {
	if user.ID == "" {
		return models.Constraints{}, ErrUnauthenticated
	}
	return loadConstraints(ctx, service.constraintsRepo, user.ID, service.defaultThreshold)
}

func (service *ConstraintService) Update(ctx context.Context, user models.User, constraints models.Constraints) (models.Constraints, error) {
	if user.ID == "" {
		return models.Constraints{}, ErrUnauthenticated
	}
	if err := validateConstraints(&constraints); err != nil {
		return models.Constraints{}, err
	}

	constraints.UserID = user.ID
	updated, err := service.constraintsRepo.Upsert(ctx, constraints)
	if err != nil {
		return models.Constraints{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return updated, nil
}

func validateConstraints(constraints *models.Constraints) error {
	switch {
	case constraints.WorkoutsPerWeek < 0 || constraints.WorkoutsPerWeek > 14:
		return invalid("workoutsPerWeek", "must be between 0 and 14")
	case constraints.SessionMinutes < 5 || constraints.SessionMinutes > 240:
		return invalid("sessionMinutes", "must be between 5 and 240")
	case constraints.WeeklyFoodBudget < 0:
		return invalid("weeklyFoodBudget", "must not be negative")
	case constraints.MealsPerDay < 1 || constraints.MealsPerDay > 8:
		return invalid("mealsPerDay", "must be between 1 and 8")
	case constraints.MaxCookingMinutes < 0:
		return invalid("maxCookingMinutes", "must not be negative")
	case constraints.ProteinTargetGrams != nil && *constraints.ProteinTargetGrams <= 0:
		return invalid("proteinTargetGrams", "must be positive when set")
	case constraints.SimplifyAfterDeviations < 1:
		return invalid("simplifyAfterDeviations", "must be at least 1")
	}

	for i, day := range constraints.PreferredWorkoutDays {
		normalized := strings.ToLower(strings.TrimSpace(day))
		if !weekdays[normalized] {
			return invalid("preferredWorkoutDays", "unknown day %q", day)
		}
		constraints.PreferredWorkoutDays[i] = normalized
	}
	return nil
}

// loadConstraints falls back to the defaults for users who never saved constraints.
func loadConstraints(ctx context.Context, constraintsRepo repository.ConstraintsRepository, userID string, defaultThreshold int) (models.Constraints, error) {
	constraints, err := constraintsRepo.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultConstraints(userID, defaultThreshold), nil
	}
	if err != nil {
		return models.Constraints{}, fmt.Errorf("loading constraints: %w", err)
	}
	return constraints, nil
}
