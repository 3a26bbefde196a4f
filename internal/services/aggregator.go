package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fitcoach/adherence/internal/config"
	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
)

// syntheticDeviation is what a "no" check-in rating counts as on each axis.
var syntheticDeviation = map[models.Axis]models.DeviationType{
	models.AxisWorkout: models.DeviationSkippedWorkout,
	models.AxisMeal:    models.DeviationMissedMeal,
	models.AxisBudget:  models.DeviationBudgetExceeded,
}

type AggregateInput struct {
	UserID         string
	AsOf           time.Time
	Threshold      int
	Deviations     []models.Deviation
	Checkin        *models.Checkin
	LastAdjustment *models.Adjustment
}

type signal struct {
	deviationType models.DeviationType
	reason        models.DeviationReason
	at            time.Time
}

// Aggregator derives the rolling adherence state. Classify is pure; Aggregate loads its inputs.
type Aggregator struct {
	window        time.Duration
	recentWindow  time.Duration
	partialWeight float64
	defaultLimit  int
}

func NewAggregator(cfg config.AdherenceConfig) *Aggregator {
	return &Aggregator{
		window:        cfg.Window,
		recentWindow:  cfg.RecentAdjustmentWindow,
		partialWeight: cfg.PartialCheckinWeight,
		defaultLimit:  cfg.DefaultSimplifyAfter,
	}
}

// WindowStart is the inclusive start of the window ending (exclusively) at asOf.
func (aggregator *Aggregator) WindowStart(asOf time.Time) time.Time {
	return asOf.Add(-aggregator.window)
}

// Aggregate is Classify over the user's stored deviations, newest check-in and last policy adjustment.
func (aggregator *Aggregator) Aggregate(ctx context.Context, repos repository.AdherenceRepositories, userID string, asOf time.Time) (models.AdherenceState, error) {
	snapshot, err := aggregator.snapshot(ctx, repos, userID, asOf)
	if err != nil {
		return models.AdherenceState{}, err
	}
	return snapshot.state, nil
}

type adherenceSnapshot struct {
	state       models.AdherenceState
	marker      models.AdherenceMarker
	constraints models.Constraints
}

func (aggregator *Aggregator) snapshot(ctx context.Context, repos repository.AdherenceRepositories, userID string, asOf time.Time) (adherenceSnapshot, error) {
	constraints, err := loadConstraints(ctx, repos.Constraints, userID, aggregator.defaultLimit)
	if err != nil {
		return adherenceSnapshot{}, err
	}

	marker, err := repos.Markers.Get(ctx, userID)
	if err != nil {
		return adherenceSnapshot{}, fmt.Errorf("loading adherence marker: %w", err)
	}

	windowStart := aggregator.WindowStart(asOf)
	deviations, err := repos.Deviations.FindInWindow(ctx, userID, windowStart, asOf)
	if err != nil {
		return adherenceSnapshot{}, fmt.Errorf("loading deviations: %w", err)
	}

	input := AggregateInput{
		UserID:     userID,
		AsOf:       asOf,
		Threshold:  constraints.SimplifyAfterDeviations,
		Deviations: deviations,
	}

	checkin, err := repos.Checkins.FindLatestInWindow(ctx, userID, windowStart, asOf)
	switch {
	case err == nil:
		input.Checkin = &checkin
	case !errors.Is(err, sql.ErrNoRows):
		return adherenceSnapshot{}, fmt.Errorf("loading checkin: %w", err)
	}

	if marker.LastAdjustmentID != nil {
		adjustment, err := repos.Adjustments.FindByID(ctx, *marker.LastAdjustmentID)
		if err != nil {
			return adherenceSnapshot{}, fmt.Errorf("loading last adjustment: %w", err)
		}
		input.LastAdjustment = &adjustment
	}

	return adherenceSnapshot{
		state:       aggregator.Classify(input),
		marker:      marker,
		constraints: constraints,
	}, nil
}

// Classify computes the adherence state for fixed inputs. Deviations and check-ins outside
// [asOf-window, asOf) are ignored.
func (aggregator *Aggregator) Classify(input AggregateInput) models.AdherenceState {
	windowStart := aggregator.WindowStart(input.AsOf)
	inWindow := func(at time.Time) bool {
		return !at.Before(windowStart) && at.Before(input.AsOf)
	}

	state := models.AdherenceState{
		UserID:       input.UserID,
		AsOf:         input.AsOf,
		WindowStart:  windowStart,
		Threshold:    input.Threshold,
		TypeCounts:   make(map[models.DeviationType]int),
		ReasonCounts: make(map[models.DeviationReason]int),
	}

	var signals []signal
	for _, deviation := range input.Deviations {
		if deviation.UserID != input.UserID || !inWindow(deviation.CreatedAt) {
			continue
		}
		signals = append(signals, signal{deviation.Type, deviation.Reason, deviation.CreatedAt})
		if deviation.Impact.Calories != nil {
			state.ImpactTotals.Calories += *deviation.Impact.Calories
		}
		if deviation.Impact.Protein != nil {
			state.ImpactTotals.Protein += *deviation.Impact.Protein
		}
		if deviation.Impact.Budget != nil {
			state.ImpactTotals.Budget += *deviation.Impact.Budget
		}
	}

	if checkin := input.Checkin; checkin != nil && inWindow(checkin.CreatedAt) {
		reason := models.ReasonOther
		if checkin.PrimaryReason != nil {
			reason = *checkin.PrimaryReason
		}
		ratings := []struct {
			axis   models.Axis
			rating models.AdherenceRating
		}{
			{models.AxisWorkout, checkin.WorkoutAdherence},
			{models.AxisMeal, checkin.MealAdherence},
			{models.AxisBudget, checkin.BudgetAdherence},
		}
		for _, axisRating := range ratings {
			switch axisRating.rating {
			case models.AdherenceNo:
				signals = append(signals, signal{syntheticDeviation[axisRating.axis], reason, checkin.CreatedAt})
			case models.AdherencePartial:
				state.PartialWeight += aggregator.partialWeight
			case models.AdherenceYes:
			}
		}
	}

	for _, s := range signals {
		state.TypeCounts[s.deviationType]++
		state.ReasonCounts[s.reason]++
	}
	state.DeviationCount = len(signals)
	state.DominantType = dominantType(signals)

	if last := input.LastAdjustment; last != nil && !last.CreatedAt.After(input.AsOf) {
		state.LastAdjustment = last
		state.AdjustedInWindow = !last.CreatedAt.Before(windowStart)
	}

	state.Status = aggregator.status(state)
	return state
}

func (aggregator *Aggregator) status(state models.AdherenceState) models.PlanStatus {
	if last := state.LastAdjustment; last != nil && last.CreatedAt.After(state.AsOf.Add(-aggregator.recentWindow)) {
		return models.PlanStatusRecentlyAdjusted
	}
	switch {
	case state.DeviationCount >= state.Threshold:
		return models.PlanStatusNeedsReview
	case state.DeviationCount > 0:
		return models.PlanStatusMinorDeviations
	default:
		return models.PlanStatusOnTrack
	}
}

// dominantType is the majority type; ties go to the type seen most recently, then to the
// higher priority axis (workout, meal, budget), then to declaration order.
func dominantType(signals []signal) *models.DeviationType {
	if len(signals) == 0 {
		return nil
	}

	counts := make(map[models.DeviationType]int)
	lastSeen := make(map[models.DeviationType]time.Time)
	for _, s := range signals {
		counts[s.deviationType]++
		if s.at.After(lastSeen[s.deviationType]) {
			lastSeen[s.deviationType] = s.at
		}
	}

	var best models.DeviationType
	for _, candidate := range models.DeviationTypes {
		if counts[candidate] == 0 {
			continue
		}
		if best == "" || beats(candidate, best, counts, lastSeen) {
			best = candidate
		}
	}
	return &best
}

func beats(candidate, current models.DeviationType, counts map[models.DeviationType]int, lastSeen map[models.DeviationType]time.Time) bool {
	if counts[candidate] != counts[current] {
		return counts[candidate] > counts[current]
	}
	if !lastSeen[candidate].Equal(lastSeen[current]) {
		return lastSeen[candidate].After(lastSeen[current])
	}
	return candidate.Axis().Priority() < current.Axis().Priority()
}
