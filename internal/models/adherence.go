package models

import "time"

type DeviationType string

const (
	DeviationSkippedWorkout   DeviationType = "skipped_workout"
	DeviationShortenedWorkout DeviationType = "shortened_workout"
	DeviationMissedMeal       DeviationType = "missed_meal"
	DeviationSubstitutedMeal  DeviationType = "substituted_meal"
	DeviationDiningOut        DeviationType = "dining_out"
	DeviationBudgetExceeded   DeviationType = "budget_exceeded"
)

var DeviationTypes = []DeviationType{
	DeviationSkippedWorkout,
	DeviationShortenedWorkout,
	DeviationMissedMeal,
	DeviationSubstitutedMeal,
	DeviationDiningOut,
	DeviationBudgetExceeded,
}

func (deviationType DeviationType) Valid() bool {
	_, ok := deviationType.axis()
	return ok
}

// Axis reports which part of the plan a deviation type belongs to.
func (deviationType DeviationType) Axis() Axis {
	axis, _ := deviationType.axis()
	return axis
}

func (deviationType DeviationType) axis() (Axis, bool) {
	switch deviationType {
	case DeviationSkippedWorkout, DeviationShortenedWorkout:
		return AxisWorkout, true
	case DeviationMissedMeal, DeviationSubstitutedMeal, DeviationDiningOut:
		return AxisMeal, true
	case DeviationBudgetExceeded:
		return AxisBudget, true
	default:
		return "", false
	}
}

type DeviationReason string

const (
	ReasonTime       DeviationReason = "time"
	ReasonBudget     DeviationReason = "budget"
	ReasonEnergy     DeviationReason = "energy"
	ReasonPreference DeviationReason = "preference"
	ReasonDiningOut  DeviationReason = "dining_out"
	ReasonIllness    DeviationReason = "illness"
	ReasonOther      DeviationReason = "other"
)

var DeviationReasons = []DeviationReason{
	ReasonTime, ReasonBudget, ReasonEnergy, ReasonPreference, ReasonDiningOut, ReasonIllness, ReasonOther,
}

func (reason DeviationReason) Valid() bool {
	switch reason {
	case ReasonTime, ReasonBudget, ReasonEnergy, ReasonPreference, ReasonDiningOut, ReasonIllness, ReasonOther:
		return true
	default:
		return false
	}
}

// Axis groups deviation types; it is also the priority order for strategy selection.
type Axis string

const (
	AxisWorkout Axis = "workout"
	AxisMeal    Axis = "meal"
	AxisBudget  Axis = "budget"
)

// Priority is lower for axes that win ties.
func (axis Axis) Priority() int {
	switch axis {
	case AxisWorkout:
		return 0
	case AxisMeal:
		return 1
	case AxisBudget:
		return 2
	default:
		return 3
	}
}

type AdherenceRating string

const (
	AdherenceYes     AdherenceRating = "yes"
	AdherencePartial AdherenceRating = "partial"
	AdherenceNo      AdherenceRating = "no"
)

func (rating AdherenceRating) Valid() bool {
	switch rating {
	case AdherenceYes, AdherencePartial, AdherenceNo:
		return true
	default:
		return false
	}
}

type PlanStatus string

const (
	PlanStatusOnTrack          PlanStatus = "on_track"
	PlanStatusMinorDeviations  PlanStatus = "minor_deviations"
	PlanStatusNeedsReview      PlanStatus = "needs_review"
	PlanStatusRecentlyAdjusted PlanStatus = "recently_adjusted"
)

type AdjustmentStrategy string

const (
	StrategyWorkoutSimplified AdjustmentStrategy = "workout_simplified"
	StrategyMealSimplified    AdjustmentStrategy = "meal_simplified"
	StrategyBudgetReallocated AdjustmentStrategy = "budget_reallocated"
	StrategyFullRegeneration  AdjustmentStrategy = "full_regeneration"
)

type TriggerSource string

const (
	TriggerDeviation TriggerSource = "deviation"
	TriggerCheckin   TriggerSource = "checkin"
	TriggerManual    TriggerSource = "manual"
)

type AdjustmentStatus string

const (
	AdjustmentStatusPending AdjustmentStatus = "pending"
)

// Impact is the optional nutritional and monetary effect of a deviation.
type Impact struct {
	Calories *float64 `json:"calories,omitempty"`
	Protein  *float64 `json:"protein,omitempty"`
	Budget   *float64 `json:"budget,omitempty"`
}

type Deviation struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Type             DeviationType   `json:"deviationType"`
	Reason           DeviationReason `json:"reason"`
	RelatedWorkoutID *string         `json:"relatedWorkoutId,omitempty"`
	RelatedMealID    *string         `json:"relatedMealId,omitempty"`
	Impact           Impact          `json:"impact"`
	Notes            string          `json:"notes,omitempty"`
	IdempotencyKey   *string         `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type Checkin struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	WorkoutAdherence AdherenceRating  `json:"workoutAdherence"`
	MealAdherence    AdherenceRating  `json:"mealAdherence"`
	BudgetAdherence  AdherenceRating  `json:"budgetAdherence"`
	PrimaryReason    *DeviationReason `json:"primaryReason,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// PlanChange is one concrete parameter handed to plan regeneration.
type PlanChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type AdjustmentDescriptor struct {
	Strategy    AdjustmentStrategy `json:"strategy"`
	Description string             `json:"description"`
	Changes     []PlanChange       `json:"changes,omitempty"`
}

// Adjustment is both the display history entry and the regeneration request
// consumed by the plan generator.
type Adjustment struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	Strategy     AdjustmentStrategy     `json:"strategy"`
	DominantType *DeviationType         `json:"dominantType,omitempty"`
	Trigger      TriggerSource          `json:"trigger"`
	Descriptors  []AdjustmentDescriptor `json:"descriptors"`
	Status       AdjustmentStatus       `json:"status"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// AdherenceMarker is the per-user versioned pointer to the last policy adjustment.
// It is only ever advanced by compare-and-swap on Version.
type AdherenceMarker struct {
	UserID           string
	Version          int
	LastAdjustmentID *string
	LastAdjustedAt   *time.Time
}

type AdherenceState struct {
	UserID           string
	AsOf             time.Time
	WindowStart      time.Time
	DeviationCount   int
	PartialWeight    float64
	Threshold        int
	Status           PlanStatus
	TypeCounts       map[DeviationType]int
	ReasonCounts     map[DeviationReason]int
	DominantType     *DeviationType
	ImpactTotals     ImpactTotals
	LastAdjustment   *Adjustment
	AdjustedInWindow bool
}

type ImpactTotals struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Budget   float64 `json:"budget"`
}

type AdjustmentResult struct {
	AdjustmentsApplied      int                    `json:"adjustmentsApplied"`
	Adjustments             []AdjustmentDescriptor `json:"adjustments"`
	Message                 string                 `json:"message"`
	RegenerationRecommended bool                   `json:"regenerationRecommended"`
}

type LastAdjustment struct {
	Type    AdjustmentStrategy `json:"type"`
	Reason  string             `json:"reason"`
	Date    time.Time          `json:"date"`
	Trigger TriggerSource      `json:"trigger"`
}

type BudgetStatus string

const (
	BudgetWithin BudgetStatus = "within_budget"
	BudgetOver   BudgetStatus = "over_budget"
)

type BudgetSummary struct {
	WeeklyBudget float64      `json:"weeklyBudget"`
	WindowDelta  float64      `json:"windowDelta"`
	Remaining    float64      `json:"remaining"`
	Status       BudgetStatus `json:"status"`
}

type Summary struct {
	Tier                    Tier            `json:"tier"`
	PlanStatus              PlanStatus      `json:"planStatus"`
	DeviationCount          int             `json:"deviationCount"`
	Threshold               int             `json:"threshold"`
	WindowStart             time.Time       `json:"windowStart"`
	Budget                  BudgetSummary   `json:"budget"`
	LastAdjustment          *LastAdjustment `json:"lastAdjustment"`
	RegenerationRecommended bool            `json:"regenerationRecommended"`
	Message                 string          `json:"message"`
	Constraints             Constraints     `json:"constraints"`
}
