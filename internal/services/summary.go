package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fitcoach/adherence/internal/models"
	"github.com/fitcoach/adherence/internal/repository"
)

// SummaryService projects the adherence state for display. It never writes.
type SummaryService struct {
	repos      repository.AdherenceRepositories
	aggregator *Aggregator
	policy     *AdjustmentPolicy
	timeout    time.Duration
	now        func() time.Time
}

func NewSummaryService(repos repository.AdherenceRepositories, aggregator *Aggregator, policy *AdjustmentPolicy, timeout time.Duration) *SummaryService {
	return &SummaryService{
		repos:      repos,
		aggregator: aggregator,
		policy:     policy,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (service *SummaryService) WithClock(now func() time.Time) *SummaryService {
	service.now = now
	return service
}

func (service *SummaryService) Project(ctx context.Context, user models.User) (models.Summary, error) {
	if user.ID == "" {
		return models.Summary{}, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	asOf := service.now()

	var (
		snapshot adherenceSnapshot
		recent   []models.Adjustment
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		snapshot, err = service.aggregator.snapshot(groupCtx, service.repos, user.ID, asOf)
		return err
	})
	group.Go(func() error {
		var err error
		recent, err = service.repos.Adjustments.FindRecent(groupCtx, user.ID, 1)
		if err != nil {
			return fmt.Errorf("loading recent adjustments: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return models.Summary{}, err
	}

	state := snapshot.state
	evaluation := service.policy.Evaluate(user.Tier, state, snapshot.constraints, models.TriggerDeviation)

	summary := models.Summary{
		Tier:           user.Tier,
		PlanStatus:     state.Status,
		DeviationCount: state.DeviationCount,
		Threshold:      state.Threshold,
		WindowStart:    state.WindowStart,
		Budget:         budgetSummary(snapshot.constraints, state),
		Message:        evaluation.Result.Message,
		Constraints:    snapshot.constraints,
	}

	// The newest adjustment of any trigger, including manual requests the marker doesn't track.
	if len(recent) > 0 {
		summary.LastAdjustment = lastAdjustmentView(&recent[0])
	} else {
		summary.LastAdjustment = lastAdjustmentView(state.LastAdjustment)
	}

	if evaluation.Triggered {
		summary.RegenerationRecommended = true
		if user.Tier == models.TierPaid {
			summary.Message = fmt.Sprintf("You've logged %d deviations this week. Your plan will be simplified with your next update.", state.DeviationCount)
		}
	}
	return summary, nil
}

func budgetSummary(constraints models.Constraints, state models.AdherenceState) models.BudgetSummary {
	budget := models.BudgetSummary{
		WeeklyBudget: constraints.WeeklyFoodBudget,
		WindowDelta:  state.ImpactTotals.Budget,
		Remaining:    constraints.WeeklyFoodBudget - state.ImpactTotals.Budget,
		Status:       models.BudgetWithin,
	}
	if budget.Remaining < 0 || state.TypeCounts[models.DeviationBudgetExceeded] > 0 {
		budget.Status = models.BudgetOver
	}
	return budget
}
