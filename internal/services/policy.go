package services

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fitcoach/adherence/internal/models"
)

const (
	minSessionMinutes = 20
	minCookingMinutes = 15
	minMealsPerDay    = 2
)

// Evaluation is the outcome of one policy run. Adjustment is only set when an adjustment
// must be persisted, which is never the case for the free tier.
type Evaluation struct {
	Triggered  bool
	Result     models.AdjustmentResult
	Adjustment *models.Adjustment
}

// AdjustmentPolicy is the only place that knows how tiers differ.
type AdjustmentPolicy struct{}

func NewAdjustmentPolicy() *AdjustmentPolicy {
	return &AdjustmentPolicy{}
}

// Triggered is true when the window crossed the threshold and no adjustment was applied in it yet.
func (policy *AdjustmentPolicy) Triggered(state models.AdherenceState) bool {
	return state.Status == models.PlanStatusNeedsReview && !state.AdjustedInWindow
}

func (policy *AdjustmentPolicy) Evaluate(tier models.Tier, state models.AdherenceState, constraints models.Constraints, trigger models.TriggerSource) Evaluation {
	if !policy.Triggered(state) {
		return Evaluation{Result: models.AdjustmentResult{
			Adjustments: []models.AdjustmentDescriptor{},
			Message:     statusMessage(state),
		}}
	}

	switch tier {
	case models.TierPaid:
		descriptor := Simplify(state.DominantType, constraints)
		return Evaluation{
			Triggered: true,
			Result: models.AdjustmentResult{
				AdjustmentsApplied: 1,
				Adjustments:        []models.AdjustmentDescriptor{descriptor},
				Message:            fmt.Sprintf("You've logged %d deviations this week, so we've adjusted your plan: %s.", state.DeviationCount, descriptor.Description),
			},
			Adjustment: &models.Adjustment{
				UserID:       state.UserID,
				Strategy:     descriptor.Strategy,
				DominantType: state.DominantType,
				Trigger:      trigger,
				Descriptors:  []models.AdjustmentDescriptor{descriptor},
				Status:       models.AdjustmentStatusPending,
				CreatedAt:    state.AsOf,
			},
		}
	default:
		return Evaluation{
			Triggered: true,
			Result: models.AdjustmentResult{
				Adjustments:             []models.AdjustmentDescriptor{},
				RegenerationRecommended: true,
				Message:                 fmt.Sprintf("You've logged %d deviations this week. Regenerate your plan to get a simpler version that fits your week.", state.DeviationCount),
			},
		}
	}
}

// Simplify picks exactly one simplification for the dominant deviation type.
// With no dominant type the whole plan is regenerated as is.
func Simplify(dominant *models.DeviationType, constraints models.Constraints) models.AdjustmentDescriptor {
	if dominant == nil {
		return models.AdjustmentDescriptor{
			Strategy:    models.StrategyFullRegeneration,
			Description: "plan regenerated from your current constraints",
		}
	}

	switch *dominant {
	case models.DeviationShortenedWorkout:
		if descriptor, ok := shortenSessions(constraints); ok {
			return descriptor
		}
		return reduceWorkoutFrequency(constraints)
	case models.DeviationSkippedWorkout:
		if constraints.WorkoutsPerWeek > 1 {
			return reduceWorkoutFrequency(constraints)
		}
		if descriptor, ok := shortenSessions(constraints); ok {
			return descriptor
		}
		return reduceWorkoutFrequency(constraints)
	case models.DeviationMissedMeal:
		if constraints.MealsPerDay > minMealsPerDay {
			return models.AdjustmentDescriptor{
				Strategy:    models.StrategyMealSimplified,
				Description: fmt.Sprintf("meals simplified from %d to %d per day", constraints.MealsPerDay, constraints.MealsPerDay-1),
				Changes:     []models.PlanChange{intChange("meals_per_day", constraints.MealsPerDay, constraints.MealsPerDay-1)},
			}
		}
		return relaxCooking(constraints)
	case models.DeviationSubstitutedMeal, models.DeviationDiningOut:
		return relaxCooking(constraints)
	case models.DeviationBudgetExceeded:
		return models.AdjustmentDescriptor{
			Strategy:    models.StrategyBudgetReallocated,
			Description: fmt.Sprintf("weekly budget of %.2f reallocated toward staple ingredients", constraints.WeeklyFoodBudget),
			Changes:     []models.PlanChange{{Field: "budget_allocation", From: "balanced", To: "staples_first"}},
		}
	default:
		return models.AdjustmentDescriptor{
			Strategy:    models.StrategyFullRegeneration,
			Description: "plan regenerated from your current constraints",
		}
	}
}

func reduceWorkoutFrequency(constraints models.Constraints) models.AdjustmentDescriptor {
	if constraints.WorkoutsPerWeek <= 1 {
		return models.AdjustmentDescriptor{
			Strategy:    models.StrategyWorkoutSimplified,
			Description: "workouts simplified to lower-intensity sessions",
			Changes:     []models.PlanChange{{Field: "intensity", From: "standard", To: "light"}},
		}
	}
	return models.AdjustmentDescriptor{
		Strategy:    models.StrategyWorkoutSimplified,
		Description: fmt.Sprintf("workout frequency reduced from %d to %d sessions per week", constraints.WorkoutsPerWeek, constraints.WorkoutsPerWeek-1),
		Changes:     []models.PlanChange{intChange("workouts_per_week", constraints.WorkoutsPerWeek, constraints.WorkoutsPerWeek-1)},
	}
}

func shortenSessions(constraints models.Constraints) (models.AdjustmentDescriptor, bool) {
	if constraints.SessionMinutes <= minSessionMinutes {
		return models.AdjustmentDescriptor{}, false
	}
	shorter := roundToFive(float64(constraints.SessionMinutes) * 0.75)
	if shorter < minSessionMinutes {
		shorter = minSessionMinutes
	}
	if shorter >= constraints.SessionMinutes {
		shorter = constraints.SessionMinutes - 5
	}
	return models.AdjustmentDescriptor{
		Strategy:    models.StrategyWorkoutSimplified,
		Description: fmt.Sprintf("workout sessions shortened from %d to %d minutes", constraints.SessionMinutes, shorter),
		Changes:     []models.PlanChange{intChange("session_minutes", constraints.SessionMinutes, shorter)},
	}, true
}

func relaxCooking(constraints models.Constraints) models.AdjustmentDescriptor {
	if constraints.MaxCookingMinutes <= minCookingMinutes {
		return models.AdjustmentDescriptor{
			Strategy:    models.StrategyMealSimplified,
			Description: "meal complexity relaxed to no-cook and batch-prepared options",
			Changes:     []models.PlanChange{{Field: "recipe_complexity", From: "standard", To: "minimal"}},
		}
	}
	shorter := roundToFive(float64(constraints.MaxCookingMinutes) * 2 / 3)
	if shorter < minCookingMinutes {
		shorter = minCookingMinutes
	}
	return models.AdjustmentDescriptor{
		Strategy:    models.StrategyMealSimplified,
		Description: fmt.Sprintf("meal complexity relaxed: cooking time capped at %d instead of %d minutes", shorter, constraints.MaxCookingMinutes),
		Changes:     []models.PlanChange{intChange("max_cooking_minutes", constraints.MaxCookingMinutes, shorter)},
	}
}

func intChange(field string, from, to int) models.PlanChange {
	return models.PlanChange{Field: field, From: strconv.Itoa(from), To: strconv.Itoa(to)}
}

func roundToFive(value float64) int {
	return int(math.Round(value/5) * 5)
}

func statusMessage(state models.AdherenceState) string {
	switch state.Status {
	case models.PlanStatusRecentlyAdjusted:
		return "Your plan was just adjusted. Give the new plan a few days before we review it again."
	case models.PlanStatusNeedsReview:
		return "Your plan was already adjusted this week. We'll review it again once this week's deviations roll off."
	case models.PlanStatusMinorDeviations:
		remaining := state.Threshold - state.DeviationCount
		if float64(state.DeviationCount)+state.PartialWeight >= float64(state.Threshold) {
			return fmt.Sprintf("%d deviations this week and a few partial days. You're close to the point where your plan gets simplified.", state.DeviationCount)
		}
		return fmt.Sprintf("%d deviations this week. %d more and your plan will be simplified.", state.DeviationCount, remaining)
	case models.PlanStatusOnTrack:
		if state.PartialWeight > 0 {
			return "You're on track, with a few partial days. Keep it up."
		}
		return "You're on track with your plan."
	default:
		return ""
	}
}

// lastAdjustmentView is the display shape of an adjustment history entry.
func lastAdjustmentView(adjustment *models.Adjustment) *models.LastAdjustment {
	if adjustment == nil {
		return nil
	}
	reason := string(adjustment.Trigger)
	if len(adjustment.Descriptors) > 0 {
		reason = adjustment.Descriptors[0].Description
	}
	return &models.LastAdjustment{
		Type:    adjustment.Strategy,
		Reason:  reason,
		Date:    adjustment.CreatedAt,
		Trigger: adjustment.Trigger,
	}
}

// conflictResult reports an adjustment another request applied first.
func conflictResult(adjustment models.Adjustment, asOf time.Time) models.AdjustmentResult {
	return models.AdjustmentResult{
		Adjustments: adjustment.Descriptors,
		Message:     fmt.Sprintf("Your plan was adjusted %s ago. Give the new plan a few days before we review it again.", asOf.Sub(adjustment.CreatedAt).Round(time.Second)),
	}
}
