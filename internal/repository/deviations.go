package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/google/uuid"
)

const deviationColumns = `id, user_id, deviation_type, reason, related_workout_id, related_meal_id,
	calories_delta, protein_delta, budget_delta, notes, idempotency_key, created_at`

// DeviationRepository is append-only: there is no update or delete.
type DeviationRepository interface {
	Create(ctx context.Context, deviation models.Deviation) (models.Deviation, error)
	FindByID(ctx context.Context, id string) (models.Deviation, error)
	FindByIdempotencyKey(ctx context.Context, userID string, key string) (models.Deviation, error)
	FindInWindow(ctx context.Context, userID string, from time.Time, to time.Time) ([]models.Deviation, error)
	FindRecent(ctx context.Context, userID string, since time.Time, limit int) ([]models.Deviation, error)
}

type SQLiteDeviationRepository struct {
	database Querier
}

func NewDeviationRepository(database Querier) *SQLiteDeviationRepository {
	return &SQLiteDeviationRepository{database: database}
}

func (repository *SQLiteDeviationRepository) Create(ctx context.Context, deviation models.Deviation) (models.Deviation, error) {
	if deviation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return models.Deviation{}, fmt.Errorf("generating deviation id: %w", err)
		}
		deviation.ID = id.String()
	}
	if deviation.CreatedAt.IsZero() {
		deviation.CreatedAt = time.Now()
	}
	deviation.CreatedAt = deviation.CreatedAt.UTC()

	_, err := repository.database.ExecContext(ctx,
		`INSERT INTO deviations (`+deviationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviation.ID, deviation.UserID, deviation.Type, deviation.Reason,
		deviation.RelatedWorkoutID, deviation.RelatedMealID,
		deviation.Impact.Calories, deviation.Impact.Protein, deviation.Impact.Budget,
		deviation.Notes, deviation.IdempotencyKey, formatTime(deviation.CreatedAt),
	)
	if err != nil {
		return models.Deviation{}, fmt.Errorf("creating deviation: %w", err)
	}
	return deviation, nil
}

func (repository *SQLiteDeviationRepository) FindByID(ctx context.Context, id string) (models.Deviation, error) {
	row := repository.database.QueryRowContext(ctx,
		`SELECT `+deviationColumns+` FROM deviations WHERE id = ?`, id,
	)
	deviation, err := scanDeviation(row)
	if err != nil {
		return models.Deviation{}, fmt.Errorf("finding deviation by id: %w", err)
	}
	return deviation, nil
}

func (repository *SQLiteDeviationRepository) FindByIdempotencyKey(ctx context.Context, userID string, key string) (models.Deviation, error) {
	row := repository.database.QueryRowContext(ctx,
		`SELECT `+deviationColumns+` FROM deviations WHERE user_id = ? AND idempotency_key = ?`,
		userID, key,
	)
	deviation, err := scanDeviation(row)
	if err != nil {
		return models.Deviation{}, fmt.Errorf("finding deviation by idempotency key: %w", err)
	}
	return deviation, nil
}

// FindInWindow returns deviations created in [from, to), oldest first.
func (repository *SQLiteDeviationRepository) FindInWindow(ctx context.Context, userID string, from time.Time, to time.Time) ([]models.Deviation, error) {
	rows, err := repository.database.QueryContext(ctx,
		`SELECT `+deviationColumns+` FROM deviations
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`,
		userID, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("finding deviations in window: %w", err)
	}
	return collectDeviations(rows)
}

// FindRecent returns deviations created at or after since, newest first.
func (repository *SQLiteDeviationRepository) FindRecent(ctx context.Context, userID string, since time.Time, limit int) ([]models.Deviation, error) {
	rows, err := repository.database.QueryContext(ctx,
		`SELECT `+deviationColumns+` FROM deviations
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, formatTime(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding recent deviations: %w", err)
	}
	return collectDeviations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviation(row rowScanner) (models.Deviation, error) {
	var deviation models.Deviation
	var createdAt string
	err := row.Scan(
		&deviation.ID, &deviation.UserID, &deviation.Type, &deviation.Reason,
		&deviation.RelatedWorkoutID, &deviation.RelatedMealID,
		&deviation.Impact.Calories, &deviation.Impact.Protein, &deviation.Impact.Budget,
		&deviation.Notes, &deviation.IdempotencyKey, &createdAt,
	)
	if err != nil {
		return models.Deviation{}, err
	}
	if deviation.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Deviation{}, err
	}
	return deviation, nil
}

func collectDeviations(rows *sql.Rows) ([]models.Deviation, error) {
	defer rows.Close()

	var deviations []models.Deviation
	for rows.Next() {
		deviation, err := scanDeviation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deviation: %w", err)
		}
		deviations = append(deviations, deviation)
	}
	return deviations, rows.Err()
}
