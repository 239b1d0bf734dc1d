package renew_subscription

import (
	"context"
	"errors"
	"time"

	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

// Summary reports the outcome of a batch renewal
type Summary struct {
	Renewed   int `json:"renewed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Interactor handles billing period rollover
type Interactor struct {
	repo    contracts.SubscriptionRepository
	plans   contracts.PlanCatalog
	locker  contracts.ExecutionLocker
	clock   domain.Clock
	logger  *logger.Logger
	lockTTL time.Duration
}

// NewInteractor creates a new renew subscription interactor
func NewInteractor(repo contracts.SubscriptionRepository, plans contracts.PlanCatalog, locker contracts.ExecutionLocker, clock domain.Clock, log *logger.Logger, lockTTL time.Duration) *Interactor {
	return &Interactor{
		repo:    repo,
		plans:   plans,
		locker:  locker,
		clock:   clock,
		logger:  log,
		lockTTL: lockTTL,
	}
}

// Execute rolls the subscription's ended periods forward until the current
// period contains now, applying any deferred plan change at the first
// boundary. The version bump stales any preview computed before it.
func (i *Interactor) Execute(ctx context.Context, subscriptionID string) (*domain.SubscriptionRenewedEvent, error) {
	release, err := i.locker.TryLock(ctx, subscriptionID, i.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := i.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	expectedVersion := sub.Version()

	var last *domain.SubscriptionRenewedEvent
	for sub.Status() != domain.StatusCancelled && !now.Before(sub.PeriodEnd()) {
		planID := sub.PlanID()
		if pending := sub.PendingPlanID(); pending != "" {
			planID = pending
		}
		plan, err := i.plans.FindPlan(ctx, planID)
		if err != nil {
			return nil, err
		}

		event, err := sub.Renew(*plan, now)
		if err != nil {
			return nil, err
		}
		last = event
	}
	if last == nil {
		return nil, domain.ErrPeriodNotEnded
	}

	if err := i.repo.Save(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	i.logger.Infow("subscription renewed",
		"subscription_id", sub.ID(),
		"business_id", sub.BusinessID(),
		"from_plan_id", last.FromPlanID,
		"to_plan_id", last.ToPlanID,
		"cancelled", last.Cancelled,
		"period_end", sub.PeriodEnd(),
	)
	return last, nil
}

// RenewDue renews every subscription whose period has ended, up to limit.
// A subscription with a plan change in flight is skipped until the next run.
func (i *Interactor) RenewDue(ctx context.Context, limit int) (Summary, error) {
	due, err := i.repo.ListDueForRenewal(ctx, i.clock.Now(), limit)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, sub := range due {
		event, err := i.Execute(ctx, sub.ID())
		switch {
		case err == nil && event.Cancelled:
			summary.Cancelled++
		case err == nil:
			summary.Renewed++
		case errors.Is(err, domain.ErrExecutionInProgress), errors.Is(err, domain.ErrPeriodNotEnded):
			summary.Skipped++
		default:
			summary.Failed++
			i.logger.Errorw("failed to renew subscription",
				"subscription_id", sub.ID(),
				"error", err,
			)
		}
	}

	i.logger.Infow("renewal run completed",
		"renewed", summary.Renewed,
		"cancelled", summary.Cancelled,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}
