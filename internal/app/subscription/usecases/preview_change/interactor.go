package preview_change

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/pricing"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/metrics"
	"github.com/wuyiadepoju/planchange/internal/validator"
	"golang.org/x/sync/errgroup"
)

// Request contains the input for previewing a plan change
type Request struct {
	BusinessID     string `json:"business_id" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	PlanID         string `json:"plan_id" validate:"required"`
	DiscountCode   string `json:"discount_code,omitempty"`
}

// Interactor handles the preview change use case
type Interactor struct {
	subs      contracts.SubscriptionRepository
	plans     contracts.PlanCatalog
	usage     contracts.UsageReader
	discounts *validate_discount.Interactor
	clock     domain.Clock
	metrics   *metrics.Metrics
	logger    *logger.Logger
	timeout   time.Duration
}

// NewInteractor creates a new preview change interactor. A zero timeout
// disables the preview deadline.
func NewInteractor(
	subs contracts.SubscriptionRepository,
	plans contracts.PlanCatalog,
	usage contracts.UsageReader,
	discounts *validate_discount.Interactor,
	clock domain.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
	timeout time.Duration,
) *Interactor {
	return &Interactor{
		subs:      subs,
		plans:     plans,
		usage:     usage,
		discounts: discounts,
		clock:     clock,
		metrics:   m,
		logger:    log,
		timeout:   timeout,
	}
}

// Execute computes the preview of moving the subscription to req.PlanID.
// It never writes. An invalid discount code is reported on the preview's
// Discount field and leaves the total unchanged.
func (i *Interactor) Execute(ctx context.Context, req Request) (*domain.ChangePreview, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	preview, err := i.compute(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !ierr.Marked(err) {
			return nil, ierr.WithError(err).
				WithHint("Computing the preview timed out, please retry").
				Mark(ierr.ErrTransient)
		}
		return nil, err
	}

	i.metrics.Previews.WithLabelValues(string(preview.ChangeType), strconv.FormatBool(preview.CanProceed)).Inc()
	i.logger.Debugw("plan change previewed",
		"business_id", req.BusinessID,
		"subscription_id", req.SubscriptionID,
		"plan_id", req.PlanID,
		"change_type", preview.ChangeType,
		"total_due_today", preview.TotalDueToday.String(),
		"can_proceed", preview.CanProceed,
	)
	return preview, nil
}

func (i *Interactor) compute(ctx context.Context, req Request) (*domain.ChangePreview, error) {
	sub, err := i.subs.FindByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.BusinessID() != req.BusinessID {
		return nil, domain.ErrBusinessMismatch
	}
	if err := sub.CanChangePlan(); err != nil {
		return nil, err
	}

	in, err := LoadInput(ctx, i.plans, i.usage, sub, req.PlanID)
	if err != nil {
		return nil, err
	}
	in.Now = i.clock.Now()

	preview, err := pricing.ComputePreview(in)
	if err != nil {
		return nil, err
	}
	preview.BusinessID = sub.BusinessID()
	preview.SubscriptionID = sub.ID()
	preview.SubscriptionVersion = sub.Version()

	if req.DiscountCode != "" {
		if err := i.discounts.Apply(ctx, &preview, req.DiscountCode); err != nil && !ierr.IsValidation(err) {
			return nil, err
		}
	}

	return &preview, nil
}

// LoadInput fetches both plans and the business's usage concurrently and
// returns the pricing input for sub. Now is left for the caller to set.
func LoadInput(ctx context.Context, plans contracts.PlanCatalog, usage contracts.UsageReader, sub *domain.Subscription, targetPlanID string) (pricing.Input, error) {
	var (
		current, target *domain.Plan
		consumed        domain.Usage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := plans.FindPlan(gctx, sub.PlanID())
		current = p
		return err
	})
	g.Go(func() error {
		p, err := plans.FindPlan(gctx, targetPlanID)
		target = p
		return err
	})
	g.Go(func() error {
		u, err := usage.Usage(gctx, sub.BusinessID())
		consumed = u
		return err
	})
	if err := g.Wait(); err != nil {
		return pricing.Input{}, err
	}

	return pricing.Input{
		CurrentPlan: *current,
		NewPlan:     *target,
		PeriodStart: sub.PeriodStart(),
		PeriodEnd:   sub.PeriodEnd(),
		Usage:       consumed,
	}, nil
}
