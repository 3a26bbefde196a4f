package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/notify"
	"github.com/fitcoach/adherence/internal/repository"
)

type EventPublisher interface {
	Publish(event notify.Event) bool
}

type DeviationInput struct {
	Type             models.DeviationType
	Reason           models.DeviationReason
	RelatedWorkoutID *string
	RelatedMealID    *string
	Notes            string
	Impact           models.Impact
	IdempotencyKey   string
}

type DeviationOutcome struct {
	Deviation models.Deviation
	Tier      models.Tier
	Result    models.AdjustmentResult
	Impact    models.ImpactTotals
	Replayed  bool
}

type CheckinInput struct {
	WorkoutAdherence models.AdherenceRating
	MealAdherence    models.AdherenceRating
	BudgetAdherence  models.AdherenceRating
	PrimaryReason    *models.DeviationReason
	Notes            string
}

type CheckinOutcome struct {
	Checkin models.Checkin
	Tier    models.Tier
	Result  models.AdjustmentResult
}

// AdherenceService records deviations and check-ins and runs the adjustment policy on each.
// A record and its evaluation commit together or not at all.
type AdherenceService struct {
	repos              repository.AdherenceRepositories
	transactor         repository.Transactor
	aggregator         *Aggregator
	policy             *AdjustmentPolicy
	publisher          EventPublisher
	locks              *userLocks
	retry              retryPolicy
	timeout            time.Duration
	manualResetsWindow bool
	now                func() time.Time
}

func NewAdherenceService(
	repos repository.AdherenceRepositories,
	transactor repository.Transactor,
	aggregator *Aggregator,
	policy *AdjustmentPolicy,
	publisher EventPublisher,
	cfg config.AdherenceConfig,
) *AdherenceService {
	return &AdherenceService{
		repos:              repos,
		transactor:         transactor,
		aggregator:         aggregator,
		policy:             policy,
		publisher:          publisher,
		locks:              newUserLocks(),
		retry:              retryPolicy{attempts: cfg.StorageRetryAttempts, backoff: cfg.StorageRetryBackoff},
		timeout:            cfg.RequestTimeout,
		manualResetsWindow: cfg.ManualRegenerateResetsWindow,
		now:                time.Now,
	}
}

// WithClock replaces the time source.
func (service *AdherenceService) WithClock(now func() time.Time) *AdherenceService {
	service.now = now
	return service
}

func (service *AdherenceService) RecordDeviation(ctx context.Context, user models.User, input DeviationInput) (DeviationOutcome, error) {
	if user.ID == "" {
		return DeviationOutcome{}, ErrUnauthenticated
	}
	if err := validateDeviation(input); err != nil {
		return DeviationOutcome{}, err
	}
	warnOnMismatchedReference(user.ID, input)

	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	unlock := service.locks.lock(user.ID)
	defer unlock()

	var outcome DeviationOutcome
	err := service.retry.do(ctx, "record deviation", func() error {
		outcome = DeviationOutcome{Tier: user.Tier}
		return service.transactor.WithinTransaction(ctx, func(repos repository.AdherenceRepositories) error {
			deviation, replayed, err := service.storeDeviation(ctx, repos, user.ID, input)
			if err != nil {
				return err
			}

			// The window end is exclusive, so evaluate as of the instant after the write.
			asOf := deviation.CreatedAt.Add(time.Nanosecond)
			if replayed {
				asOf = service.now()
			}

			state, result, err := service.evaluate(ctx, repos, user, asOf, models.TriggerDeviation)
			if err != nil {
				return err
			}

			outcome.Deviation = deviation
			outcome.Replayed = replayed
			outcome.Result = result
			outcome.Impact = state.ImpactTotals
			return nil
		})
	})
	if err != nil {
		return DeviationOutcome{}, err
	}

	if !outcome.Replayed {
		service.publish(notify.Event{
			Name:   "deviation_recorded",
			UserID: user.ID,
			Properties: map[string]string{
				"deviation_type":      string(outcome.Deviation.Type),
				"reason":              string(outcome.Deviation.Reason),
				"adjustments_applied": strconv.Itoa(outcome.Result.AdjustmentsApplied),
			},
		})
	}
	return outcome, nil
}

func (service *AdherenceService) storeDeviation(ctx context.Context, repos repository.AdherenceRepositories, userID string, input DeviationInput) (models.Deviation, bool, error) {
	deviation := models.Deviation{
		UserID:           userID,
		Type:             input.Type,
		Reason:           input.Reason,
		RelatedWorkoutID: input.RelatedWorkoutID,
		RelatedMealID:    input.RelatedMealID,
		Impact:           input.Impact,
		Notes:            input.Notes,
		CreatedAt:        service.now(),
	}

	if input.IdempotencyKey != "" {
		existing, err := repos.Deviations.FindByIdempotencyKey(ctx, userID, input.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Deviation{}, false, err
		}
		key := input.IdempotencyKey
		deviation.IdempotencyKey = &key
	}

	created, err := repos.Deviations.Create(ctx, deviation)
	if err != nil && deviation.IdempotencyKey != nil && repository.IsConstraintViolation(err) {
		// Another process stored the same key between our lookup and insert.
		existing, findErr := repos.Deviations.FindByIdempotencyKey(ctx, userID, *deviation.IdempotencyKey)
		if findErr == nil {
			return existing, true, nil
		}
		return models.Deviation{}, false, err
	}
	if err != nil {
		return models.Deviation{}, false, err
	}
	return created, false, nil
}

func (service *AdherenceService) SubmitCheckin(ctx context.Context, user models.User, input CheckinInput) (CheckinOutcome, error) {
	if user.ID == "" {
		return CheckinOutcome{}, ErrUnauthenticated
	}
	if err := validateCheckin(input); err != nil {
		return CheckinOutcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	unlock := service.locks.lock(user.ID)
	defer unlock()

	var outcome CheckinOutcome
	err := service.retry.do(ctx, "submit checkin", func() error {
		outcome = CheckinOutcome{Tier: user.Tier}
		return service.transactor.WithinTransaction(ctx, func(repos repository.AdherenceRepositories) error {
			checkin, err := repos.Checkins.Create(ctx, models.Checkin{
				UserID:           user.ID,
				WorkoutAdherence: input.WorkoutAdherence,
				MealAdherence:    input.MealAdherence,
				BudgetAdherence:  input.BudgetAdherence,
				PrimaryReason:    input.PrimaryReason,
				Notes:            input.Notes,
				CreatedAt:        service.now(),
			})
			if err != nil {
				return err
			}

			_, result, err := service.evaluate(ctx, repos, user, checkin.CreatedAt.Add(time.Nanosecond), models.TriggerCheckin)
			if err != nil {
				return err
			}

			outcome.Checkin = checkin
			outcome.Result = result
			return nil
		})
	})
	if err != nil {
		return CheckinOutcome{}, err
	}

	service.publish(notify.Event{
		Name:   "checkin_submitted",
		UserID: user.ID,
		Properties: map[string]string{
			"workout":             string(input.WorkoutAdherence),
			"meal":                string(input.MealAdherence),
			"budget":              string(input.BudgetAdherence),
			"adjustments_applied": strconv.Itoa(outcome.Result.AdjustmentsApplied),
		},
	})
	return outcome, nil
}

// evaluate runs the policy against fresh state and persists a paid-tier adjustment. Losing the
// marker race once re-evaluates; losing twice reports the adjustment that won.
func (service *AdherenceService) evaluate(ctx context.Context, repos repository.AdherenceRepositories, user models.User, asOf time.Time, trigger models.TriggerSource) (models.AdherenceState, models.AdjustmentResult, error) {
	for attempt := 0; ; attempt++ {
		snapshot, err := service.aggregator.snapshot(ctx, repos, user.ID, asOf)
		if err != nil {
			return models.AdherenceState{}, models.AdjustmentResult{}, err
		}

		evaluation := service.policy.Evaluate(user.Tier, snapshot.state, snapshot.constraints, trigger)
		if evaluation.Adjustment == nil {
			return snapshot.state, evaluation.Result, nil
		}

		adjustment := *evaluation.Adjustment
		adjustment.ID = repository.NewAdjustmentID()

		_, err = repos.Markers.CompareAndSwap(ctx, user.ID, snapshot.marker.Version, adjustment.ID, adjustment.CreatedAt)
		if errors.Is(err, repository.ErrVersionConflict) {
			if attempt == 0 {
				slog.Info("adherence marker moved, re-evaluating", "user_id", user.ID)
				continue
			}
			result, err := service.authoritativeResult(ctx, repos, user.ID, asOf)
			return snapshot.state, result, err
		}
		if err != nil {
			return models.AdherenceState{}, models.AdjustmentResult{}, err
		}

		if _, err := repos.Adjustments.Create(ctx, adjustment); err != nil {
			return models.AdherenceState{}, models.AdjustmentResult{}, err
		}

		slog.Info("plan adjusted",
			"user_id", user.ID,
			"strategy", adjustment.Strategy,
			"trigger", trigger,
			"deviations", snapshot.state.DeviationCount,
			"threshold", snapshot.state.Threshold,
		)
		return snapshot.state, evaluation.Result, nil
	}
}

func (service *AdherenceService) authoritativeResult(ctx context.Context, repos repository.AdherenceRepositories, userID string, asOf time.Time) (models.AdjustmentResult, error) {
	marker, err := repos.Markers.Get(ctx, userID)
	if err != nil {
		return models.AdjustmentResult{}, err
	}
	if marker.LastAdjustmentID == nil {
		return models.AdjustmentResult{}, ErrPolicyConflict
	}
	winner, err := repos.Adjustments.FindByID(ctx, *marker.LastAdjustmentID)
	if err != nil {
		return models.AdjustmentResult{}, fmt.Errorf("loading winning adjustment: %w", err)
	}
	return conflictResult(winner, asOf), nil
}

// RegeneratePlan records a user-requested regeneration for any tier.
func (service *AdherenceService) RegeneratePlan(ctx context.Context, user models.User) (models.Adjustment, error) {
	if user.ID == "" {
		return models.Adjustment{}, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	unlock := service.locks.lock(user.ID)
	defer unlock()

	var adjustment models.Adjustment
	err := service.retry.do(ctx, "regenerate plan", func() error {
		return service.transactor.WithinTransaction(ctx, func(repos repository.AdherenceRepositories) error {
			asOf := service.now()
			snapshot, err := service.aggregator.snapshot(ctx, repos, user.ID, asOf)
			if err != nil {
				return err
			}

			descriptor := Simplify(snapshot.state.DominantType, snapshot.constraints)
			adjustment = models.Adjustment{
				ID:           repository.NewAdjustmentID(),
				UserID:       user.ID,
				Strategy:     descriptor.Strategy,
				DominantType: snapshot.state.DominantType,
				Trigger:      models.TriggerManual,
				Descriptors:  []models.AdjustmentDescriptor{descriptor},
				Status:       models.AdjustmentStatusPending,
				CreatedAt:    asOf,
			}

			if service.manualResetsWindow {
				if _, err := repos.Markers.CompareAndSwap(ctx, user.ID, snapshot.marker.Version, adjustment.ID, asOf); err != nil {
					if errors.Is(err, repository.ErrVersionConflict) {
						return ErrPolicyConflict
					}
					return err
				}
			}

			created, err := repos.Adjustments.Create(ctx, adjustment)
			if err != nil {
				return err
			}
			adjustment = created
			return nil
		})
	})
	if err != nil {
		return models.Adjustment{}, err
	}

	slog.Info("plan regeneration requested", "user_id", user.ID, "strategy", adjustment.Strategy, "resets_window", service.manualResetsWindow)
	service.publish(notify.Event{
		Name:       "plan_regeneration_requested",
		UserID:     user.ID,
		Properties: map[string]string{"strategy": string(adjustment.Strategy)},
	})
	return adjustment, nil
}

func (service *AdherenceService) ListDeviations(ctx context.Context, user models.User, since time.Time, limit int) ([]models.Deviation, error) {
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return service.repos.Deviations.FindRecent(ctx, user.ID, since, limit)
}

func (service *AdherenceService) ListCheckins(ctx context.Context, user models.User, limit int) ([]models.Checkin, error) {
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return service.repos.Checkins.FindRecent(ctx, user.ID, limit)
}

func (service *AdherenceService) ListAdjustments(ctx context.Context, user models.User, limit int) ([]models.Adjustment, error) {
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return service.repos.Adjustments.FindRecent(ctx, user.ID, limit)
}

func (service *AdherenceService) publish(event notify.Event) {
	if service.publisher == nil {
		return
	}
	event.OccurredAt = service.now().UTC()
	service.publisher.Publish(event)
}

func validateDeviation(input DeviationInput) error {
	if !input.Type.Valid() {
		return invalid("deviationType", "must be one of %v", models.DeviationTypes)
	}
	if !input.Reason.Valid() {
		return invalid("reason", "must be one of %v", models.DeviationReasons)
	}
	if input.RelatedWorkoutID != nil && *input.RelatedWorkoutID == "" {
		return invalid("relatedWorkoutId", "must not be empty when set")
	}
	if input.RelatedMealID != nil && *input.RelatedMealID == "" {
		return invalid("relatedMealId", "must not be empty when set")
	}
	if len(input.IdempotencyKey) > 128 {
		return invalid("idempotencyKey", "must be at most 128 characters")
	}
	return nil
}

func validateCheckin(input CheckinInput) error {
	if !input.WorkoutAdherence.Valid() {
		return invalid("workoutAdherence", "must be one of yes, partial, no")
	}
	if !input.MealAdherence.Valid() {
		return invalid("mealAdherence", "must be one of yes, partial, no")
	}
	if !input.BudgetAdherence.Valid() {
		return invalid("budgetAdherence", "must be one of yes, partial, no")
	}
	if input.PrimaryReason != nil && !input.PrimaryReason.Valid() {
		return invalid("primaryReason", "must be one of %v", models.DeviationReasons)
	}
	return nil
}

// warnOnMismatchedReference logs references that don't match the deviation's axis.
// They are stored as given.
func warnOnMismatchedReference(userID string, input DeviationInput) {
	switch input.Type.Axis() {
	case models.AxisWorkout:
		if input.RelatedMealID != nil {
			slog.Warn("workout deviation references a meal", "user_id", userID, "deviation_type", input.Type)
		}
	case models.AxisMeal:
		if input.RelatedWorkoutID != nil {
			slog.Warn("meal deviation references a workout", "user_id", userID, "deviation_type", input.Type)
		}
	case models.AxisBudget:
		if input.RelatedWorkoutID != nil {
			slog.Warn("budget deviation references a workout", "user_id", userID, "deviation_type", input.Type)
		}
	}
}
