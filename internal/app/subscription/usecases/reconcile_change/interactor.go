package reconcile_change

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

// Summary reports the outcome of a reconciliation run
type Summary struct {
	Committed int `json:"committed"`
	Voided    int `json:"voided"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

// Interactor resolves charges whose plan change commit was lost
type Interactor struct {
	changes contracts.ChangeStore
	subs    contracts.SubscriptionRepository
	methods contracts.PaymentMethodRepository
	gateway contracts.PaymentGateway
	locker  contracts.ExecutionLocker
	clock   domain.Clock
	logger  *logger.Logger
	lockTTL time.Duration
}

// NewInteractor creates a new reconcile change interactor
func NewInteractor(
	changes contracts.ChangeStore,
	subs contracts.SubscriptionRepository,
	methods contracts.PaymentMethodRepository,
	gateway contracts.PaymentGateway,
	locker contracts.ExecutionLocker,
	clock domain.Clock,
	log *logger.Logger,
	lockTTL time.Duration,
) *Interactor {
	return &Interactor{
		changes: changes,
		subs:    subs,
		methods: methods,
		gateway: gateway,
		locker:  locker,
		clock:   clock,
		logger:  log,
		lockTTL: lockTTL,
	}
}

// Execute resolves the reconciliation record for idempotencyKey. The charge
// is confirmed with the gateway first: a captured charge gets its plan change
// committed and its result stored, a charge that never went through voids
// the record. A charge still pending leaves the record open.
func (i *Interactor) Execute(ctx context.Context, idempotencyKey string) (*domain.ChangeResult, error) {
	rec, err := i.changes.FindReconciliation(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if rec.Resolved() {
		return i.changes.FindResult(ctx, idempotencyKey)
	}

	release, err := i.locker.TryLock(ctx, rec.SubscriptionID, i.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	log := i.logger.With(
		"idempotency_key", rec.IdempotencyKey,
		"subscription_id", rec.SubscriptionID,
		"transaction_id", rec.TransactionID,
	)

	method := domain.PaymentMethod{ID: rec.PaymentMethodID}
	if stored, err := i.methods.FindByID(ctx, rec.BusinessID, rec.PaymentMethodID); err == nil {
		method = *stored
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	charge, err := i.gateway.ChargeStatus(ctx, domain.PlanChangeCharge(
		rec.IdempotencyKey, rec.BusinessID, rec.SubscriptionID, rec.TargetPlanID, method, rec.Amount, rec.Currency,
	))
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	switch charge.Status {
	case domain.ChargePending:
		log.Infow("reconciliation deferred, charge still pending")
		return nil, ierr.NewError("charge is still pending at the gateway").
			WithHint("The payment has not settled yet, try again later").
			Mark(ierr.ErrTransient)

	case domain.ChargeFailed, domain.ChargeNotFound:
		if err := i.resolve(ctx, rec, now); err != nil {
			return nil, err
		}
		log.Warnw("reconciliation voided, charge was not captured", "status", charge.Status)
		return &domain.ChangeResult{
			IdempotencyKey: rec.IdempotencyKey,
			BusinessID:     rec.BusinessID,
			SubscriptionID: rec.SubscriptionID,
			TargetPlanID:   rec.TargetPlanID,
			ChangeType:     rec.ChangeType,
			Outcome:        domain.OutcomeFailed,
			Failure: &domain.ChangeFailure{
				Kind:          ierr.ErrCodePaymentFailed,
				Message:       "the charge was not captured",
				TransactionID: rec.TransactionID,
			},
			CompletedAt: now,
		}, nil
	}

	result, err := i.commit(ctx, rec, charge, now)
	if err != nil {
		log.Errorw("reconciliation commit failed", "error", err)
		return nil, err
	}
	if err := i.resolve(ctx, rec, now); err != nil {
		return nil, err
	}

	log.Infow("reconciliation committed plan change", "target_plan_id", rec.TargetPlanID)
	return result, nil
}

func (i *Interactor) commit(ctx context.Context, rec *domain.Reconciliation, charge *domain.Charge, now time.Time) (*domain.ChangeResult, error) {
	sub, err := i.subs.FindByID(ctx, rec.SubscriptionID)
	if err != nil {
		return nil, err
	}

	expectedVersion := sub.Version()
	if sub.PlanID() != rec.TargetPlanID {
		if _, err := sub.ApplyUpgrade(rec.TargetPlanID, now); err != nil {
			return nil, err
		}
	}

	result := &domain.ChangeResult{
		IdempotencyKey: rec.IdempotencyKey,
		BusinessID:     rec.BusinessID,
		SubscriptionID: rec.SubscriptionID,
		TargetPlanID:   rec.TargetPlanID,
		ChangeType:     rec.ChangeType,
		Outcome:        domain.OutcomeSucceeded,
		EffectiveDate:  domain.Immediately(now),
		Subscription:   lo.ToPtr(sub.Snapshot()),
		Payment: &domain.PaymentConfirmation{
			TransactionID:   lo.Ternary(charge.TransactionID != "", charge.TransactionID, rec.TransactionID),
			PaymentMethodID: rec.PaymentMethodID,
			Amount:          rec.Amount,
			Currency:        rec.Currency,
			ChargedAt:       rec.CreatedAt,
		},
		CompletedAt: now,
	}

	if err := i.changes.CommitChange(ctx, sub, expectedVersion, result); err != nil {
		if ierr.Is(err, domain.ErrResultExists) {
			return i.changes.FindResult(ctx, rec.IdempotencyKey)
		}
		return nil, err
	}
	return result, nil
}

func (i *Interactor) resolve(ctx context.Context, rec *domain.Reconciliation, now time.Time) error {
	rec.ResolvedAt = &now
	return i.changes.SaveReconciliation(ctx, rec)
}

// ReconcileOpen works through open records, oldest first.
func (i *Interactor) ReconcileOpen(ctx context.Context, limit int) (Summary, error) {
	open, err := i.changes.ListOpenReconciliations(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, rec := range open {
		result, err := i.Execute(ctx, rec.IdempotencyKey)
		switch {
		case err == nil && result.Succeeded():
			summary.Committed++
		case err == nil:
			summary.Voided++
		case ierr.IsTransient(err) || ierr.Is(err, domain.ErrExecutionInProgress):
			summary.Pending++
		default:
			summary.Failed++
			i.logger.Errorw("failed to reconcile plan change",
				"idempotency_key", rec.IdempotencyKey,
				"transaction_id", rec.TransactionID,
				"error", err,
			)
		}
	}

	i.logger.Infow("reconciliation run completed",
		"committed", summary.Committed,
		"voided", summary.Voided,
		"pending", summary.Pending,
		"failed", summary.Failed,
	)
	return summary, nil
}
