package handlers

import (
	"net/http"
	"testing"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/testutil"
	"github.com/go-chi/chi/v5"
)

func setupAdminRouter(t *testing.T) (*chi.Mux, repository.UserRepository, models.User) {
	t.Helper()
	database := testutil.NewTestDatabase(t)
	userRepo := repository.NewUserRepository(database)
	handler := NewAdminHandler(userRepo)

	router := chi.NewRouter()
	router.Get("/api/admin/users", handler.Users)
	router.Put("/api/admin/users/{id}/tier", handler.SetTier)

	return router, userRepo, testutil.NewTestUser(t, database, models.TierFree)
}

func TestSetTier_AcceptsProAlias(t *testing.T) {
	router, userRepo, member := setupAdminRouter(t)

	recorder := serve(router, jsonRequest(http.MethodPut, "/api/admin/users/"+member.ID+"/tier", `{"tier":"pro"}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}

	updated, err := userRepo.FindByID(t.Context(), member.ID)
	if err != nil {
		t.Fatalf("finding user: %v", err)
	}
	if updated.Tier != models.TierPaid {
		t.Errorf("expected tier paid, got %q", updated.Tier)
	}
}

func TestSetTier_RejectsUnknownTier(t *testing.T) {
	router, _, member := setupAdminRouter(t)

	recorder := serve(router, jsonRequest(http.MethodPut, "/api/admin/users/"+member.ID+"/tier", `{"tier":"platinum"}`))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestSetTier_UnknownUser(t *testing.T) {
	router, _, _ := setupAdminRouter(t)

	recorder := serve(router, jsonRequest(http.MethodPut, "/api/admin/users/missing/tier", `{"tier":"paid"}`))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

func TestUsers_ListsTiers(t *testing.T) {
	router, _, member := setupAdminRouter(t)

	recorder := serve(router, jsonRequest(http.MethodGet, "/api/admin/users", ""))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var users []map[string]any
	decodeBody(t, recorder, &users)
	if len(users) != 1 || users[0]["id"] != member.ID || users[0]["tier"] != string(models.TierFree) {
		t.Errorf("unexpected users: %v", users)
	}
}
