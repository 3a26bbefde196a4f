package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/models"
)

// ErrVersionConflict is returned when another writer advanced the marker first.
var ErrVersionConflict = errors.New("adherence marker version conflict")

type MarkerRepository interface {
	Get(ctx context.Context, userID string) (models.AdherenceMarker, error)
	CompareAndSwap(ctx context.Context, userID string, expectedVersion int, adjustmentID string, adjustedAt time.Time) (models.AdherenceMarker, error)
}

type SQLiteMarkerRepository struct {
	database Querier
}

func NewMarkerRepository(database Querier) *SQLiteMarkerRepository {
	return &SQLiteMarkerRepository{database: database}
}

// Get returns the user's marker, or a version 0 marker if none was ever written.
func (repository *SQLiteMarkerRepository) Get(ctx context.Context, userID string) (models.AdherenceMarker, error) {
	marker := models.AdherenceMarker{UserID: userID}
	var adjustedAt sql.NullString
	err := repository.database.QueryRowContext(ctx,
		`SELECT version, last_adjustment_id, last_adjusted_at FROM adherence_markers WHERE user_id = ?`, userID,
	).Scan(&marker.Version, &marker.LastAdjustmentID, &adjustedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return marker, nil
	}
	if err != nil {
		return models.AdherenceMarker{}, fmt.Errorf("finding adherence marker: %w", err)
	}
	if adjustedAt.Valid {
		parsed, err := parseTime(adjustedAt.String)
		if err != nil {
			return models.AdherenceMarker{}, err
		}
		marker.LastAdjustedAt = &parsed
	}
	return marker, nil
}

// CompareAndSwap points the marker at adjustmentID only if its version is still expectedVersion.
func (repository *SQLiteMarkerRepository) CompareAndSwap(ctx context.Context, userID string, expectedVersion int, adjustmentID string, adjustedAt time.Time) (models.AdherenceMarker, error) {
	if _, err := repository.database.ExecContext(ctx,
		`INSERT INTO adherence_markers (user_id, version) VALUES (?, 0) ON CONFLICT(user_id) DO NOTHING`, userID,
	); err != nil {
		return models.AdherenceMarker{}, fmt.Errorf("ensuring adherence marker: %w", err)
	}

	result, err := repository.database.ExecContext(ctx,
		`UPDATE adherence_markers SET version = version + 1, last_adjustment_id = ?, last_adjusted_at = ?
		WHERE user_id = ? AND version = ?`,
		adjustmentID, formatTime(adjustedAt), userID, expectedVersion,
	)
	if err != nil {
		return models.AdherenceMarker{}, fmt.Errorf("advancing adherence marker: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return models.AdherenceMarker{}, fmt.Errorf("checking adherence marker update: %w", err)
	}
	if affected == 0 {
		return models.AdherenceMarker{}, ErrVersionConflict
	}

	adjustedAt = adjustedAt.UTC()
	return models.AdherenceMarker{
		UserID:           userID,
		Version:          expectedVersion + 1,
		LastAdjustmentID: &adjustmentID,
		LastAdjustedAt:   &adjustedAt,
	}, nil
}
