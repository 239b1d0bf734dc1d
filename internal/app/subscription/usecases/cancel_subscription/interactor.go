package cancel_subscription

import (
	"context"
	"time"

	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/validator"
)

// Request contains the input for cancelling a subscription
type Request struct {
	BusinessID     string `json:"business_id" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

// Interactor handles the cancel subscription use case
type Interactor struct {
	repo    contracts.SubscriptionRepository
	locker  contracts.ExecutionLocker
	clock   domain.Clock
	logger  *logger.Logger
	lockTTL time.Duration
}

// NewInteractor creates a new cancel subscription interactor
func NewInteractor(repo contracts.SubscriptionRepository, locker contracts.ExecutionLocker, clock domain.Clock, log *logger.Logger, lockTTL time.Duration) *Interactor {
	return &Interactor{
		repo:    repo,
		locker:  locker,
		clock:   clock,
		logger:  log,
		lockTTL: lockTTL,
	}
}

// Execute flags a subscription to end at its current period boundary. Any
// deferred plan change is dropped and no refund is issued. Cancelling while
// a plan change executes is rejected with a conflict.
func (i *Interactor) Execute(ctx context.Context, req Request) (*domain.SubscriptionCancelledEvent, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	// 1. Exclude a concurrent plan change
	release, err := i.locker.TryLock(ctx, req.SubscriptionID, i.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	// 2. Load subscription
	sub, err := i.repo.FindByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.BusinessID() != req.BusinessID {
		return nil, domain.ErrBusinessMismatch
	}

	// 3. Cancel via domain method (returns event)
	expectedVersion := sub.Version()
	event, err := sub.CancelAtPeriodEnd(i.clock.Now())
	if err != nil {
		return nil, err
	}

	// 4. Save, guarded by the loaded version
	if err := i.repo.Save(ctx, sub, expectedVersion); err != nil {
		return nil, err
	}

	i.logger.Infow("subscription scheduled for cancellation",
		"subscription_id", sub.ID(),
		"business_id", sub.BusinessID(),
		"effective_at", event.EffectiveAt,
	)
	return event, nil
}
