package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fitcoach/adherence/internal/database"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/google/uuid"
)

func NewTestDatabase(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// NewTestUser creates a member with the given tier.
func NewTestUser(t *testing.T, db *sql.DB, tier models.Tier) models.User {
	t.Helper()

	user, err := repository.NewUserRepository(db).Create(context.Background(), models.User{
		OIDCSubject: "sub-" + uuid.NewString(),
		Email:       "member@example.com",
		Name:        "Test Member",
		Role:        models.RoleMember,
		Tier:        tier,
	})
	if err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return user
}

// NewTestDatabaseFile creates a migrated database file so tests can open several handles on it.
func NewTestDatabaseFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "adherence.db")
	db := OpenTestDatabase(t, path)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return path
}

func OpenTestDatabase(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
