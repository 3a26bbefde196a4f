package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/models"
)

type ConstraintsRepository interface {
	Get(ctx context.Context, userID string) (models.Constraints, error)
	Upsert(ctx context.Context, constraints models.Constraints) (models.Constraints, error)
}

type SQLiteConstraintsRepository struct {
	database Querier
}

func NewConstraintsRepository(database Querier) *SQLiteConstraintsRepository {
	return &SQLiteConstraintsRepository{database: database}
}

func (repository *SQLiteConstraintsRepository) Get(ctx context.Context, userID string) (models.Constraints, error) {
	constraints := models.Constraints{UserID: userID}
	var workoutDays string
	var updatedAt string
	err := repository.database.QueryRowContext(ctx,
		`SELECT workouts_per_week, session_minutes, equipment_access, preferred_workout_days,
			weekly_food_budget, meals_per_day, max_cooking_minutes, protein_target_grams,
			simplify_after_deviations, updated_at
		FROM user_constraints WHERE user_id = ?`, userID,
	).Scan(
		&constraints.WorkoutsPerWeek, &constraints.SessionMinutes, &constraints.EquipmentAccess, &workoutDays,
		&constraints.WeeklyFoodBudget, &constraints.MealsPerDay, &constraints.MaxCookingMinutes, &constraints.ProteinTargetGrams,
		&constraints.SimplifyAfterDeviations, &updatedAt,
	)
	if err != nil {
		return models.Constraints{}, fmt.Errorf("finding constraints: %w", err)
	}
	if err := json.Unmarshal([]byte(workoutDays), &constraints.PreferredWorkoutDays); err != nil {
		return models.Constraints{}, fmt.Errorf("unmarshaling preferred workout days: %w", err)
	}
	if constraints.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Constraints{}, err
	}
	return constraints, nil
}

func (repository *SQLiteConstraintsRepository) Upsert(ctx context.Context, constraints models.Constraints) (models.Constraints, error) {
	if constraints.PreferredWorkoutDays == nil {
		constraints.PreferredWorkoutDays = []string{}
	}
	workoutDays, err := json.Marshal(constraints.PreferredWorkoutDays)
	if err != nil {
		return models.Constraints{}, fmt.Errorf("marshaling preferred workout days: %w", err)
	}
	constraints.UpdatedAt = time.Now().UTC()

	_, err = repository.database.ExecContext(ctx,
		`INSERT INTO user_constraints (
			user_id, workouts_per_week, session_minutes, equipment_access, preferred_workout_days,
			weekly_food_budget, meals_per_day, max_cooking_minutes, protein_target_grams,
			simplify_after_deviations, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			workouts_per_week = excluded.workouts_per_week,
			session_minutes = excluded.session_minutes,
			equipment_access = excluded.equipment_access,
			preferred_workout_days = excluded.preferred_workout_days,
			weekly_food_budget = excluded.weekly_food_budget,
			meals_per_day = excluded.meals_per_day,
			max_cooking_minutes = excluded.max_cooking_minutes,
			protein_target_grams = excluded.protein_target_grams,
			simplify_after_deviations = excluded.simplify_after_deviations,
			updated_at = excluded.updated_at`,
		constraints.UserID, constraints.WorkoutsPerWeek, constraints.SessionMinutes, constraints.EquipmentAccess, string(workoutDays),
		constraints.WeeklyFoodBudget, constraints.MealsPerDay, constraints.MaxCookingMinutes, constraints.ProteinTargetGrams,
		constraints.SimplifyAfterDeviations, formatTime(constraints.UpdatedAt),
	)
	if err != nil {
		return models.Constraints{}, fmt.Errorf("upserting constraints: %w", err)
	}
	return constraints, nil
}
