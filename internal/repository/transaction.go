package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so TEXT timestamps compare in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AdherenceRepositories groups the stores touched by one record-and-evaluate unit of work.
type AdherenceRepositories struct {
	Deviations  DeviationRepository
	Checkins    CheckinRepository
	Adjustments AdjustmentRepository
	Markers     MarkerRepository
	Constraints ConstraintsRepository
}

func NewAdherenceRepositories(querier Querier) AdherenceRepositories {
	return AdherenceRepositories{
		Deviations:  NewDeviationRepository(querier),
		Checkins:    NewCheckinRepository(querier),
		Adjustments: NewAdjustmentRepository(querier),
		Markers:     NewMarkerRepository(querier),
		Constraints: NewConstraintsRepository(querier),
	}
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(repos AdherenceRepositories) error) error
}

type SQLiteTransactor struct {
	database *sql.DB
}

func NewTransactor(database *sql.DB) *SQLiteTransactor {
	return &SQLiteTransactor{database: database}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
func (transactor *SQLiteTransactor) WithinTransaction(ctx context.Context, fn func(repos AdherenceRepositories) error) error {
	transaction, err := transactor.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer transaction.Rollback()

	if err := fn(NewAdherenceRepositories(transaction)); err != nil {
		return err
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is a lock contention error worth retrying.
func IsTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}

// IsConstraintViolation reports whether err is a rejected write, such as a duplicate unique key.
func IsConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
