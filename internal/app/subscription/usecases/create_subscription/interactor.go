package create_subscription

import (
	"context"

	"github.com/google/uuid"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/validator"
)

// Request contains the input for creating a subscription
type Request struct {
	BusinessID string `json:"business_id" validate:"required"`
	PlanID     string `json:"plan_id" validate:"required"`
	TrialDays  int    `json:"trial_days" validate:"gte=0,lte=90"`
}

// Interactor handles the create subscription use case
type Interactor struct {
	repo   contracts.SubscriptionRepository
	plans  contracts.PlanCatalog
	clock  domain.Clock
	logger *logger.Logger
}

// NewInteractor creates a new create subscription interactor
func NewInteractor(repo contracts.SubscriptionRepository, plans contracts.PlanCatalog, clock domain.Clock, log *logger.Logger) *Interactor {
	return &Interactor{
		repo:   repo,
		plans:  plans,
		clock:  clock,
		logger: log,
	}
}

// Execute creates a new subscription. A business may only hold one
// non-cancelled subscription at a time.
func (i *Interactor) Execute(ctx context.Context, req Request) (*domain.Subscription, *domain.SubscriptionCreatedEvent, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, nil, err
	}

	// 1. Resolve the published plan
	plan, err := i.plans.FindPlan(ctx, req.PlanID)
	if err != nil {
		return nil, nil, err
	}

	// 2. Create domain aggregate
	id := uuid.New().String()
	sub, event, err := domain.NewSubscription(id, req.BusinessID, *plan, req.TrialDays, i.clock)
	if err != nil {
		return nil, nil, err
	}

	// 3. Persist, enforcing one active subscription per business
	if err := i.repo.Create(ctx, sub); err != nil {
		return nil, nil, err
	}

	i.logger.Infow("subscription created",
		"subscription_id", sub.ID(),
		"business_id", sub.BusinessID(),
		"plan_id", sub.PlanID(),
		"status", sub.Status(),
		"period_end", sub.PeriodEnd(),
	)
	return sub, event, nil
}
