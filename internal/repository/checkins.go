package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/google/uuid"
)

const checkinColumns = `id, user_id, workout_adherence, meal_adherence, budget_adherence,
	primary_reason, notes, created_at`

type CheckinRepository interface {
	Create(ctx context.Context, checkin models.Checkin) (models.Checkin, error)
	FindLatestInWindow(ctx context.Context, userID string, from time.Time, to time.Time) (models.Checkin, error)
	FindRecent(ctx context.Context, userID string, limit int) ([]models.Checkin, error)
}

type SQLiteCheckinRepository struct {
	database Querier
}

func NewCheckinRepository(database Querier) *SQLiteCheckinRepository {
	return &SQLiteCheckinRepository{database: database}
}

func (repository *SQLiteCheckinRepository) Create(ctx context.Context, checkin models.Checkin) (models.Checkin, error) {
	if checkin.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return models.Checkin{}, fmt.Errorf("generating checkin id: %w", err)
		}
		checkin.ID = id.String()
	}
	if checkin.CreatedAt.IsZero() {
		checkin.CreatedAt = time.Now()
	}
	checkin.CreatedAt = checkin.CreatedAt.UTC()

	_, err := repository.database.ExecContext(ctx,
		`INSERT INTO checkins (`+checkinColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		checkin.ID, checkin.UserID, checkin.WorkoutAdherence, checkin.MealAdherence, checkin.BudgetAdherence,
		checkin.PrimaryReason, checkin.Notes, formatTime(checkin.CreatedAt),
	)
	if err != nil {
		return models.Checkin{}, fmt.Errorf("creating checkin: %w", err)
	}
	return checkin, nil
}

// FindLatestInWindow returns the check-in that is authoritative for [from, to).
// Older check-ins in the same window are superseded.
func (repository *SQLiteCheckinRepository) FindLatestInWindow(ctx context.Context, userID string, from time.Time, to time.Time) (models.Checkin, error) {
	row := repository.database.QueryRowContext(ctx,
		`SELECT `+checkinColumns+` FROM checkins
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, formatTime(from), formatTime(to),
	)
	checkin, err := scanCheckin(row)
	if err != nil {
		return models.Checkin{}, fmt.Errorf("finding latest checkin: %w", err)
	}
	return checkin, nil
}

func (repository *SQLiteCheckinRepository) FindRecent(ctx context.Context, userID string, limit int) ([]models.Checkin, error) {
	rows, err := repository.database.QueryContext(ctx,
		`SELECT `+checkinColumns+` FROM checkins WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding recent checkins: %w", err)
	}
	defer rows.Close()

	var checkins []models.Checkin
	for rows.Next() {
		checkin, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkin: %w", err)
		}
		checkins = append(checkins, checkin)
	}
	return checkins, rows.Err()
}

func scanCheckin(row rowScanner) (models.Checkin, error) {
	var checkin models.Checkin
	var createdAt string
	err := row.Scan(
		&checkin.ID, &checkin.UserID, &checkin.WorkoutAdherence, &checkin.MealAdherence, &checkin.BudgetAdherence,
		&checkin.PrimaryReason, &checkin.Notes, &createdAt,
	)
	if err != nil {
		return models.Checkin{}, err
	}
	if checkin.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Checkin{}, err
	}
	return checkin, nil
}
