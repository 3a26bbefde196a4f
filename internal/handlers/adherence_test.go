package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/middleware"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
	"github.com/fitcoach/adherence/internal/services"
	"github.com/fitcoach/adherence/internal/testutil"
	"github.com/go-chi/chi/v5"
)

func requestWithUser(request *http.Request, user models.User) *http.Request {
	ctx := context.WithValue(request.Context(), middleware.UserContextKey, user)
	return request.WithContext(ctx)
}

func setupAdherenceRouter(t *testing.T, tier models.Tier) (*chi.Mux, models.User) {
	t.Helper()
	database := testutil.NewTestDatabase(t)
	cfg := config.DefaultAdherenceConfig()

	repos := repository.NewAdherenceRepositories(database)
	aggregator := services.NewAggregator(cfg)
	policy := services.NewAdjustmentPolicy()
	handler := NewAdherenceHandler(
		services.NewAdherenceService(repos, repository.NewTransactor(database), aggregator, policy, nil, cfg),
		services.NewSummaryService(repos, aggregator, policy, cfg.RequestTimeout),
		services.NewConstraintService(repos.Constraints, cfg.DefaultSimplifyAfter),
	)

	router := chi.NewRouter()
	router.Post("/api/deviations", handler.RecordDeviation)
	router.Get("/api/deviations", handler.ListDeviations)
	router.Post("/api/checkins", handler.SubmitCheckin)
	router.Get("/api/checkins", handler.ListCheckins)
	router.Get("/api/summary", handler.Summary)
	router.Get("/api/constraints", handler.GetConstraints)
	router.Put("/api/constraints", handler.UpdateConstraints)
	router.Post("/api/plan/regenerate", handler.RegeneratePlan)
	router.Get("/api/adjustments", handler.ListAdjustments)

	return router, testutil.NewTestUser(t, database, tier)
}

func serve(router http.Handler, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func jsonRequest(method, path, body string) *http.Request {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("decoding response: %v\nbody: %s", err, recorder.Body.String())
	}
}

func TestRecordDeviation_Created(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierPaid)

	body := `{"deviationType":"skipped_workout","reason":"time","notes":"late meeting","impact":{"calories":-300}}`
	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPost, "/api/deviations", body), user))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Deviation        models.Deviation        `json:"deviation"`
		Tier             models.Tier             `json:"tier"`
		AdjustmentResult models.AdjustmentResult `json:"adjustmentResult"`
		Message          string                  `json:"message"`
	}
	decodeBody(t, recorder, &response)

	if response.Deviation.Type != models.DeviationSkippedWorkout {
		t.Errorf("expected skipped_workout, got %q", response.Deviation.Type)
	}
	if response.Deviation.Impact.Calories == nil || *response.Deviation.Impact.Calories != -300 {
		t.Errorf("expected calories -300, got %v", response.Deviation.Impact.Calories)
	}
	if response.Tier != models.TierPaid {
		t.Errorf("expected tier paid, got %q", response.Tier)
	}
	if response.AdjustmentResult.Adjustments == nil {
		t.Error("expected an adjustments array, got null")
	}
	if response.Message == "" {
		t.Error("expected a message")
	}
}

func TestRecordDeviation_ValidationErrorNamesField(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	body := `{"deviationType":"napped","reason":"time"}`
	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPost, "/api/deviations", body), user))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var response map[string]string
	decodeBody(t, recorder, &response)
	if response["field"] != "deviationType" {
		t.Errorf("expected field deviationType, got %q", response["field"])
	}
}

func TestRecordDeviation_MalformedBody(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPost, "/api/deviations", `{"deviationType":`), user))

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestRecordDeviation_WithoutUserIsUnauthorized(t *testing.T) {
	router, _ := setupAdherenceRouter(t, models.TierFree)

	body := `{"deviationType":"missed_meal","reason":"time"}`
	recorder := serve(router, jsonRequest(http.MethodPost, "/api/deviations", body))

	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", recorder.Code)
	}
}

func TestRecordDeviation_IdempotencyKeyHeader(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)
	body := `{"deviationType":"missed_meal","reason":"time"}`

	first := jsonRequest(http.MethodPost, "/api/deviations", body)
	first.Header.Set("Idempotency-Key", "offline-17")
	if recorder := serve(router, requestWithUser(first, user)); recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}

	second := jsonRequest(http.MethodPost, "/api/deviations", body)
	second.Header.Set("Idempotency-Key", "offline-17")
	if recorder := serve(router, requestWithUser(second, user)); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a replay, got %d", recorder.Code)
	}

	recorder := serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, "/api/deviations", nil), user))
	var deviations []models.Deviation
	decodeBody(t, recorder, &deviations)
	if len(deviations) != 1 {
		t.Errorf("expected 1 deviation, got %d", len(deviations))
	}
}

func TestListDeviations_RejectsBadParameters(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	for _, path := range []string{"/api/deviations?since=yesterday", "/api/deviations?limit=0", "/api/deviations?limit=abc"} {
		recorder := serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, path, nil), user))
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, recorder.Code)
		}
	}
}

func TestSubmitCheckin_Created(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	body := `{"workoutAdherence":"no","mealAdherence":"yes","budgetAdherence":"partial","primaryReason":"energy"}`
	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPost, "/api/checkins", body), user))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		Checkin models.Checkin `json:"checkin"`
	}
	decodeBody(t, recorder, &response)
	if response.Checkin.PrimaryReason == nil || *response.Checkin.PrimaryReason != models.ReasonEnergy {
		t.Errorf("expected primary reason energy, got %v", response.Checkin.PrimaryReason)
	}

	recorder = serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, "/api/checkins", nil), user))
	var checkins []models.Checkin
	decodeBody(t, recorder, &checkins)
	if len(checkins) != 1 || checkins[0].ID != response.Checkin.ID {
		t.Errorf("expected the submitted check-in in history, got %+v", checkins)
	}
}

func TestSummary_EmptyHistory(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	recorder := serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, "/api/summary", nil), user))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response map[string]any
	decodeBody(t, recorder, &response)
	if response["planStatus"] != string(models.PlanStatusOnTrack) {
		t.Errorf("expected on_track, got %v", response["planStatus"])
	}
	if value, ok := response["lastAdjustment"]; !ok || value != nil {
		t.Errorf("expected lastAdjustment to be null, got %v", value)
	}
}

func TestConstraints_UpdateThenGet(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	body := `{"workoutsPerWeek":4,"sessionMinutes":30,"equipmentAccess":"gym","preferredWorkoutDays":["mon","thu"],"weeklyFoodBudget":80,"mealsPerDay":3,"maxCookingMinutes":20,"simplifyAfterDeviations":2}`
	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPut, "/api/constraints", body), user))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}

	recorder = serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, "/api/constraints", nil), user))
	var constraints models.Constraints
	decodeBody(t, recorder, &constraints)
	if constraints.WorkoutsPerWeek != 4 || constraints.EquipmentAccess != "gym" || constraints.SimplifyAfterDeviations != 2 {
		t.Errorf("unexpected constraints: %+v", constraints)
	}
}

func TestConstraints_UpdateRejectsInvalid(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	body := `{"workoutsPerWeek":4,"sessionMinutes":30,"weeklyFoodBudget":80,"mealsPerDay":3,"simplifyAfterDeviations":0}`
	recorder := serve(router, requestWithUser(jsonRequest(http.MethodPut, "/api/constraints", body), user))

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestRegeneratePlan_CreatesManualAdjustment(t *testing.T) {
	router, user := setupAdherenceRouter(t, models.TierFree)

	recorder := serve(router, requestWithUser(httptest.NewRequest(http.MethodPost, "/api/plan/regenerate", nil), user))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d\nbody: %s", recorder.Code, recorder.Body.String())
	}

	recorder = serve(router, requestWithUser(httptest.NewRequest(http.MethodGet, "/api/adjustments?limit=5", nil), user))
	var adjustments []models.Adjustment
	decodeBody(t, recorder, &adjustments)
	if len(adjustments) != 1 || adjustments[0].Trigger != models.TriggerManual {
		t.Errorf("expected one manual adjustment, got %+v", adjustments)
	}
}
