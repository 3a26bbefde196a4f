package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fitcoach/adherence/internal/middleware"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/services"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxBodyBytes        = 64 << 10
)

type AdherenceHandler struct {
	adherenceService  *services.AdherenceService
	summaryService    *services.SummaryService
	constraintService *services.ConstraintService
}

func NewAdherenceHandler(
	adherenceService *services.AdherenceService,
	summaryService *services.SummaryService,
	constraintService *services.ConstraintService,
) *AdherenceHandler {
	return &AdherenceHandler{
		adherenceService:  adherenceService,
		summaryService:    summaryService,
		constraintService: constraintService,
	}
}

type deviationRequest struct {
	DeviationType    models.DeviationType   `json:"deviationType"`
	Reason           models.DeviationReason `json:"reason"`
	RelatedWorkoutID *string                `json:"relatedWorkoutId"`
	RelatedMealID    *string                `json:"relatedMealId"`
	Notes            string                 `json:"notes"`
	Impact           models.Impact          `json:"impact"`
}

type checkinRequest struct {
	WorkoutAdherence models.AdherenceRating  `json:"workoutAdherence"`
	MealAdherence    models.AdherenceRating  `json:"mealAdherence"`
	BudgetAdherence  models.AdherenceRating  `json:"budgetAdherence"`
	PrimaryReason    *models.DeviationReason `json:"primaryReason"`
	Notes            string                  `json:"notes"`
}

func (handler *AdherenceHandler) RecordDeviation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	var request deviationRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	outcome, err := handler.adherenceService.RecordDeviation(ctx, user, services.DeviationInput{
		Type:             request.DeviationType,
		Reason:           request.Reason,
		RelatedWorkoutID: request.RelatedWorkoutID,
		RelatedMealID:    request.RelatedMealID,
		Notes:            request.Notes,
		Impact:           request.Impact,
		IdempotencyKey:   r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, "recording deviation", err)
		return
	}

	status := http.StatusCreated
	if outcome.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"deviation":        outcome.Deviation,
		"tier":             outcome.Tier,
		"adjustmentResult": outcome.Result,
		"message":          outcome.Result.Message,
		"impact":           outcome.Impact,
	})
}

func (handler *AdherenceHandler) ListDeviations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	since := time.Time{}
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			writeError(w, "listing deviations", &services.ValidationError{Field: "since", Message: "must be an RFC 3339 timestamp"})
			return
		}
		since = parsed
	}

	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	deviations, err := handler.adherenceService.ListDeviations(ctx, user, since, limit)
	if err != nil {
		writeError(w, "listing deviations", err)
		return
	}
	writeJSON(w, http.StatusOK, deviations)
}

func (handler *AdherenceHandler) SubmitCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(ctx)

	var request checkinRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	outcome, err := handler.adherenceService.SubmitCheckin(ctx, user, services.CheckinInput{
		WorkoutAdherence: request.WorkoutAdherence,
		MealAdherence:    request.MealAdherence,
		BudgetAdherence:  request.BudgetAdherence,
		PrimaryReason:    request.PrimaryReason,
		Notes:            request.Notes,
	})
	if err != nil {
		writeError(w, "submitting checkin", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"checkin":          outcome.Checkin,
		"tier":             outcome.Tier,
		"adjustmentResult": outcome.Result,
		"message":          outcome.Result.Message,
	})
}

func (handler *AdherenceHandler) ListCheckins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	checkins, err := handler.adherenceService.ListCheckins(ctx, middleware.GetUser(ctx), limit)
	if err != nil {
		writeError(w, "listing checkins", err)
		return
	}
	writeJSON(w, http.StatusOK, checkins)
}

func (handler *AdherenceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := handler.summaryService.Project(ctx, middleware.GetUser(ctx))
	if err != nil {
		writeError(w, "projecting summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (handler *AdherenceHandler) GetConstraints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	constraints, err := handler.constraintService.Get(ctx, middleware.GetUser(ctx))
	if err != nil {
		writeError(w, "loading constraints", err)
		return
	}
	writeJSON(w, http.StatusOK, constraints)
}

func (handler *AdherenceHandler) UpdateConstraints(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var constraints models.Constraints
	if !decodeJSON(w, r, &constraints) {
		return
	}

	updated, err := handler.constraintService.Update(ctx, middleware.GetUser(ctx), constraints)
	if err != nil {
		writeError(w, "updating constraints", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (handler *AdherenceHandler) RegeneratePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adjustment, err := handler.adherenceService.RegeneratePlan(ctx, middleware.GetUser(ctx))
	if err != nil {
		writeError(w, "regenerating plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, adjustment)
}

func (handler *AdherenceHandler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	adjustments, err := handler.adherenceService.ListAdjustments(ctx, middleware.GetUser(ctx), limit)
	if err != nil {
		writeError(w, "listing adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, adjustments)
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		writeError(w, "parsing limit", &services.ValidationError{Field: "limit", Message: "must be between 1 and 200"})
		return 0, false
	}
	return limit, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps service errors to status codes. Only validation messages reach the client.
func writeError(w http.ResponseWriter, operation string, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationErr.Message, "field": validationErr.Field})
	case errors.Is(err, services.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": services.ErrUnauthenticated.Error()})
	default:
		slog.Error(operation, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": operation + " failed"})
	}
}
