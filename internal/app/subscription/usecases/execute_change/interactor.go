package execute_change

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/paymentmethod"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/pricing"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/preview_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/idempotency"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/metrics"
	"github.com/wuyiadepoju/planchange/internal/validator"
)

// Config bounds a single execution
type Config struct {
	LockTTL          time.Duration
	Timeout          time.Duration
	ChargeMaxRetries uint64
	ChargeBackoff    time.Duration
}

// Dependencies are the collaborators of an execution
type Dependencies struct {
	Subscriptions  contracts.SubscriptionRepository
	Plans          contracts.PlanCatalog
	Usage          contracts.UsageReader
	Changes        contracts.ChangeStore
	Gateway        contracts.PaymentGateway
	PaymentMethods *paymentmethod.Registry
	Discounts      *validate_discount.Interactor
	Locker         contracts.ExecutionLocker
	Keys           *idempotency.Generator
	Clock          domain.Clock
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
}

// Interactor handles the execute plan change use case
type Interactor struct {
	Dependencies
	cfg Config
}

// NewInteractor creates a new execute change interactor
func NewInteractor(deps Dependencies, cfg Config) *Interactor {
	return &Interactor{
		Dependencies: deps,
		cfg:          cfg,
	}
}

// attempt tracks what one execution has done so far
type attempt struct {
	key        string
	req        domain.ChangeRequest
	log        *logger.Logger
	changeType domain.ChangeType
	dispatched bool
}

// Execute performs a confirmed plan change. It is safe to call repeatedly
// with the same request: a completed key returns the stored result and a key
// awaiting reconciliation returns the same fatal error.
//
// Once the execution lock is taken the work runs detached from ctx's
// cancellation, bounded by the configured timeout, so a caller going away
// never interrupts a dispatched charge.
func (i *Interactor) Execute(ctx context.Context, req domain.ChangeRequest) (*domain.ChangeResult, error) {
	if err := validator.ValidateRequest(req); err != nil {
		i.Metrics.Rejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	a := &attempt{
		key: i.Keys.PlanChangeKey(req.SubscriptionID, req.TargetPlanID, req.IdempotencyKey),
		req: req,
	}
	a.log = i.Logger.With(
		"idempotency_key", a.key,
		"business_id", req.BusinessID,
		"subscription_id", req.SubscriptionID,
		"target_plan_id", req.TargetPlanID,
	)

	if result, found, err := i.replay(ctx, a); found || err != nil {
		return result, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.Timeout)
	defer cancel()

	release, err := i.Locker.TryLock(ctx, req.SubscriptionID, i.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionInProgress) {
			i.Metrics.Rejections.WithLabelValues("in_progress").Inc()
			a.log.Infow("plan change rejected, execution already in progress")
		}
		return nil, err
	}
	defer release()

	// The previous holder of the lock may have completed this very key.
	if result, found, err := i.replay(ctx, a); found || err != nil {
		return result, err
	}
	if err := i.blockedByReconciliation(ctx, a); err != nil {
		return nil, err
	}

	a.log.Infow("plan change execution started")
	result, err := i.execute(ctx, a)
	i.record(a, err)
	if err != nil {
		a.log.Warnw("plan change execution failed",
			"kind", ierr.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	a.log.Infow("plan change execution succeeded",
		"change_type", result.ChangeType,
		"effective_immediately", result.EffectiveDate.Immediate,
	)
	return result, nil
}

// replay answers from a stored outcome for a.key, if there is one.
func (i *Interactor) replay(ctx context.Context, a *attempt) (*domain.ChangeResult, bool, error) {
	result, err := i.Changes.FindResult(ctx, a.key)
	switch {
	case err == nil:
		if result.BusinessID != a.req.BusinessID {
			return nil, true, domain.ErrBusinessMismatch
		}
		i.Metrics.Replays.Inc()
		a.log.Infow("plan change replayed from stored result")
		return result, true, nil
	case !ierr.IsNotFound(err):
		return nil, false, err
	}

	rec, err := i.Changes.FindReconciliation(ctx, a.key)
	switch {
	case err == nil:
		if !rec.Resolved() {
			return nil, true, rec.Err()
		}
	case !ierr.IsNotFound(err):
		return nil, false, err
	}

	return nil, false, nil
}

// blockedByReconciliation refuses any new change while an earlier charge for
// the subscription still waits for its commit.
func (i *Interactor) blockedByReconciliation(ctx context.Context, a *attempt) error {
	rec, err := i.Changes.FindOpenReconciliationBySubscription(ctx, a.req.SubscriptionID)
	switch {
	case err == nil:
		i.Metrics.Rejections.WithLabelValues("reconciliation_open").Inc()
		a.log.Warnw("plan change rejected, subscription has an open reconciliation",
			"open_idempotency_key", rec.IdempotencyKey,
			"transaction_id", rec.TransactionID,
		)
		return rec.Err()
	case ierr.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (i *Interactor) execute(ctx context.Context, a *attempt) (*domain.ChangeResult, error) {
	req := a.req

	sub, err := i.Subscriptions.FindByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.BusinessID() != req.BusinessID {
		return nil, domain.ErrBusinessMismatch
	}
	if err := sub.CanChangePlan(); err != nil {
		return nil, err
	}

	now := i.Clock.Now()
	if req.ExpectedVersion != 0 && sub.Version() != req.ExpectedVersion {
		return nil, domain.ErrStalePreview
	}
	// A period that has ended must be renewed before it can be changed.
	if !now.Before(sub.PeriodEnd()) {
		return nil, domain.ErrStalePreview
	}

	in, err := preview_change.LoadInput(ctx, i.Plans, i.Usage, sub, req.TargetPlanID)
	if err != nil {
		return nil, err
	}
	in.Now = now

	preview, err := pricing.ComputePreview(in)
	if err != nil {
		return nil, err
	}
	a.changeType = preview.ChangeType

	if !preview.CanProceed {
		return nil, ierr.WithError(domain.ErrPlanLimitsExceeded).
			WithReportableDetails(map[string]any{"limitations": preview.Limitations}).
			Mark(ierr.ErrBusinessRule)
	}

	if err := i.Discounts.Apply(ctx, &preview, req.DiscountCode); err != nil {
		return nil, err
	}

	var method *domain.PaymentMethod
	if preview.PaymentRequired {
		method, err = i.PaymentMethods.Resolve(ctx, req.BusinessID, req.PaymentMethodID)
		if err != nil {
			return nil, err
		}
	}

	var payment *domain.PaymentConfirmation
	if amount := preview.AmountToCharge(); amount.IsPositive() {
		a.dispatched = true
		payment, err = i.charge(ctx, a, sub, method, amount, preview.Currency)
		if err != nil {
			return nil, err
		}
	}

	expectedVersion := sub.Version()
	if preview.ChangeType == domain.ChangeTypeUpgrade {
		_, err = sub.ApplyUpgrade(req.TargetPlanID, now)
	} else {
		_, err = sub.ScheduleChange(req.TargetPlanID, preview.ChangeType, now)
	}
	if err != nil {
		if payment != nil {
			return nil, i.reconcile(ctx, a, expectedVersion, payment, err)
		}
		return nil, err
	}

	result := &domain.ChangeResult{
		IdempotencyKey: a.key,
		BusinessID:     req.BusinessID,
		SubscriptionID: req.SubscriptionID,
		TargetPlanID:   req.TargetPlanID,
		ChangeType:     preview.ChangeType,
		Outcome:        domain.OutcomeSucceeded,
		EffectiveDate:  preview.EffectiveDate,
		Subscription:   lo.ToPtr(sub.Snapshot()),
		Payment:        payment,
		Discount:       preview.Discount,
		CompletedAt:    now,
	}

	if err := i.commit(ctx, sub, expectedVersion, result); err != nil {
		if errors.Is(err, domain.ErrResultExists) {
			if stored, ferr := i.Changes.FindResult(ctx, a.key); ferr == nil {
				return stored, nil
			}
		}
		if payment != nil {
			return nil, i.reconcile(ctx, a, expectedVersion, payment, err)
		}
		return nil, err
	}

	return result, nil
}

// charge takes amount from method, retrying timeouts and provider outages a
// bounded number of times. Before reporting an ambiguous failure it asks the
// gateway whether the charge went through after all.
func (i *Interactor) charge(ctx context.Context, a *attempt, sub *domain.Subscription, method *domain.PaymentMethod, amount decimal.Decimal, currency string) (*domain.PaymentConfirmation, error) {
	chargeReq := domain.PlanChangeCharge(a.key, a.req.BusinessID, sub.ID(), a.req.TargetPlanID, *method, amount, currency)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.ChargeBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, i.cfg.ChargeMaxRetries), ctx)

	attempts := 0
	charge, err := backoff.RetryWithData(func() (*domain.Charge, error) {
		attempts++
		c, err := i.Gateway.Charge(ctx, chargeReq)
		if err == nil {
			i.Metrics.ChargeAttempts.WithLabelValues(string(c.Status)).Inc()
			a.log.Infow("gateway charge attempt completed",
				"attempt", attempts,
				"status", c.Status,
				"transaction_id", c.TransactionID,
			)
			return c, nil
		}

		ge, ok := domain.AsGatewayError(err)
		kind := domain.GatewayUnknown
		if ok {
			kind = ge.Kind
		}
		i.Metrics.ChargeAttempts.WithLabelValues(string(kind)).Inc()
		a.log.Warnw("gateway charge attempt failed",
			"attempt", attempts,
			"error_kind", kind,
			"error", err,
		)
		if ok && ge.Retryable() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, policy)

	if err == nil {
		switch charge.Status {
		case domain.ChargeSucceeded:
			return i.confirmation(charge, method, amount, currency), nil
		case domain.ChargeFailed:
			return nil, domain.NewGatewayError(domain.GatewayCardDeclined, "", "the charge was not approved")
		}
	} else if ge, ok := domain.AsGatewayError(err); ok && !ge.Retryable() && !ge.Ambiguous() {
		return nil, err
	}

	status, serr := i.Gateway.ChargeStatus(ctx, chargeReq)
	if serr != nil {
		a.log.Errorw("gateway status check failed", "error", serr)
		if err != nil {
			return nil, err
		}
		return nil, ierr.WithError(serr).
			WithHint("The payment outcome could not be confirmed, please retry").
			Mark(ierr.ErrTransient)
	}

	a.log.Infow("gateway status checked",
		"status", status.Status,
		"transaction_id", status.TransactionID,
	)
	switch status.Status {
	case domain.ChargeSucceeded:
		return i.confirmation(status, method, amount, currency), nil
	case domain.ChargePending:
		pending := &domain.PaymentConfirmation{
			TransactionID:   status.TransactionID,
			PaymentMethodID: method.ID,
			Amount:          amount,
			Currency:        currency,
			ChargedAt:       i.Clock.Now(),
		}
		return nil, i.reconcile(ctx, a, sub.Version(), pending, errors.New("charge still pending at the gateway"))
	}

	if err != nil {
		return nil, err
	}
	return nil, domain.NewGatewayError(domain.GatewayCardDeclined, "", "the charge was not approved")
}

func (i *Interactor) confirmation(c *domain.Charge, method *domain.PaymentMethod, amount decimal.Decimal, currency string) *domain.PaymentConfirmation {
	return &domain.PaymentConfirmation{
		TransactionID:   c.TransactionID,
		PaymentMethodID: method.ID,
		Amount:          amount,
		Currency:        currency,
		ChargedAt:       i.Clock.Now(),
	}
}

// commit stores the change, retrying transient store failures.
func (i *Interactor) commit(ctx context.Context, sub *domain.Subscription, expectedVersion int64, result *domain.ChangeResult) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(i.cfg.ChargeBackoff), i.cfg.ChargeMaxRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := i.Changes.CommitChange(ctx, sub, expectedVersion, result)
		if err != nil && !ierr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// reconcile records a charge whose plan change could not be committed and
// returns the fatal error for it.
func (i *Interactor) reconcile(ctx context.Context, a *attempt, expectedVersion int64, payment *domain.PaymentConfirmation, cause error) error {
	rec := &domain.Reconciliation{
		IdempotencyKey:  a.key,
		BusinessID:      a.req.BusinessID,
		SubscriptionID:  a.req.SubscriptionID,
		TargetPlanID:    a.req.TargetPlanID,
		ChangeType:      a.changeType,
		ExpectedVersion: expectedVersion,
		TransactionID:   payment.TransactionID,
		PaymentMethodID: payment.PaymentMethodID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Error:           cause.Error(),
		CreatedAt:       i.Clock.Now(),
	}

	a.log.Errorw("charge taken but plan change not committed",
		"transaction_id", payment.TransactionID,
		"amount", payment.Amount.String(),
		"currency", payment.Currency,
		"error", cause,
	)
	if err := i.Changes.SaveReconciliation(ctx, rec); err != nil {
		a.log.Errorw("failed to record reconciliation",
			"transaction_id", payment.TransactionID,
			"error", err,
		)
	}

	return rec.Err()
}

func (i *Interactor) record(a *attempt, err error) {
	changeType := string(a.changeType)
	if changeType == "" {
		changeType = "unknown"
	}

	outcome := string(domain.OutcomeSucceeded)
	if err != nil {
		outcome = ierr.KindOf(err)
		if !a.dispatched {
			i.Metrics.Rejections.WithLabelValues(outcome).Inc()
		}
	}
	i.Metrics.Executions.WithLabelValues(changeType, outcome).Inc()
}
