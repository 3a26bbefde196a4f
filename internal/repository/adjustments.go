package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/google/uuid"
)

const adjustmentColumns = `id, user_id, strategy, dominant_type, trigger_source, descriptors, status, created_at`

type AdjustmentRepository interface {
	Create(ctx context.Context, adjustment models.Adjustment) (models.Adjustment, error)
	FindByID(ctx context.Context, id string) (models.Adjustment, error)
	FindRecent(ctx context.Context, userID string, limit int) ([]models.Adjustment, error)
}

type SQLiteAdjustmentRepository struct {
	database Querier
}

func NewAdjustmentRepository(database Querier) *SQLiteAdjustmentRepository {
	return &SQLiteAdjustmentRepository{database: database}
}

// NewAdjustmentID is exposed so the marker can be advanced before the row is written.
func NewAdjustmentID() string {
	return uuid.New().String()
}

func (repository *SQLiteAdjustmentRepository) Create(ctx context.Context, adjustment models.Adjustment) (models.Adjustment, error) {
	if adjustment.ID == "" {
		adjustment.ID = NewAdjustmentID()
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now()
	}
	if adjustment.Status == "" {
		adjustment.Status = models.AdjustmentStatusPending
	}
	adjustment.CreatedAt = adjustment.CreatedAt.UTC()

	descriptors, err := json.Marshal(adjustment.Descriptors)
	if err != nil {
		return models.Adjustment{}, fmt.Errorf("marshaling adjustment descriptors: %w", err)
	}

	_, err = repository.database.ExecContext(ctx,
		`INSERT INTO adjustments (`+adjustmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		adjustment.ID, adjustment.UserID, adjustment.Strategy, adjustment.DominantType,
		adjustment.Trigger, string(descriptors), adjustment.Status, formatTime(adjustment.CreatedAt),
	)
	if err != nil {
		return models.Adjustment{}, fmt.Errorf("creating adjustment: %w", err)
	}
	return adjustment, nil
}

func (repository *SQLiteAdjustmentRepository) FindByID(ctx context.Context, id string) (models.Adjustment, error) {
	row := repository.database.QueryRowContext(ctx,
		`SELECT `+adjustmentColumns+` FROM adjustments WHERE id = ?`, id,
	)
	adjustment, err := scanAdjustment(row)
	if err != nil {
		return models.Adjustment{}, fmt.Errorf("finding adjustment by id: %w", err)
	}
	return adjustment, nil
}

func (repository *SQLiteAdjustmentRepository) FindRecent(ctx context.Context, userID string, limit int) ([]models.Adjustment, error) {
	rows, err := repository.database.QueryContext(ctx,
		`SELECT `+adjustmentColumns+` FROM adjustments WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding recent adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []models.Adjustment
	for rows.Next() {
		adjustment, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning adjustment: %w", err)
		}
		adjustments = append(adjustments, adjustment)
	}
	return adjustments, rows.Err()
}

func scanAdjustment(row rowScanner) (models.Adjustment, error) {
	var adjustment models.Adjustment
	var descriptors string
	var createdAt string
	err := row.Scan(
		&adjustment.ID, &adjustment.UserID, &adjustment.Strategy, &adjustment.DominantType,
		&adjustment.Trigger, &descriptors, &adjustment.Status, &createdAt,
	)
	if err != nil {
		return models.Adjustment{}, err
	}
	if err := json.Unmarshal([]byte(descriptors), &adjustment.Descriptors); err != nil {
		return models.Adjustment{}, fmt.Errorf("unmarshaling adjustment descriptors: %w", err)
	}
	if adjustment.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Adjustment{}, err
	}
	return adjustment, nil
}
