package execute_change

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/adapters"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts/mocks"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/paymentmethod"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo/memstore"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/idempotency"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/metrics"
)

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	midPeriod   = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	basicPlan = domain.Plan{
		ID:       "plan-basic",
		Price:    decimal.NewFromInt(1500),
		Currency: "NGN",
		Interval: domain.IntervalMonthly,
		Limits:   map[domain.Resource]int64{domain.ResourceStaff: 3},
	}
	proPlan = domain.Plan{
		ID:       "plan-pro",
		Price:    decimal.NewFromInt(3000),
		Currency: "NGN",
		Interval: domain.IntervalMonthly,
		Limits:   map[domain.Resource]int64{domain.ResourceStaff: 10},
	}
)

type fixture struct {
	store     *memstore.Store
	changes   contracts.ChangeStore
	gateway   *mocks.MockPaymentGateway
	discounts *mocks.MockDiscountValidator
	locker    contracts.ExecutionLocker
	clock     domain.Clock
}

func newFixture(t *testing.T, planID string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.Plans().SavePlan(ctx, basicPlan))
	require.NoError(t, store.Plans().SavePlan(ctx, proPlan))
	require.NoError(t, store.Usage().SetUsage(ctx, "biz-456", domain.Usage{domain.ResourceStaff: 2}))
	require.NoError(t, store.Subscriptions().Create(ctx, domain.ReconstructFromPersistence(domain.SubscriptionState{
		ID:          "sub-123",
		BusinessID:  "biz-456",
		PlanID:      planID,
		Status:      domain.StatusActive,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Version:     3,
	})))
	require.NoError(t, store.PaymentMethods().Add(ctx, domain.PaymentMethod{
		ID:           "pm-1",
		BusinessID:   "biz-456",
		Brand:        domain.BrandVisa,
		Last4:        "4242",
		ExpMonth:     12,
		ExpYear:      2030,
		IsDefault:    true,
		GatewayToken: "tok_visa",
	}))

	clock := domain.FixedClock{FixedTime: midPeriod}
	return &fixture{
		store:     store,
		changes:   store.Changes(),
		gateway:   new(mocks.MockPaymentGateway),
		discounts: new(mocks.MockDiscountValidator),
		locker:    adapters.NewLocalLocker(clock),
		clock:     clock,
	}
}

func (f *fixture) interactor() *Interactor {
	log := logger.NewNop()
	return NewInteractor(Dependencies{
		Subscriptions:  f.store.Subscriptions(),
		Plans:          f.store.Plans(),
		Usage:          f.store.Usage(),
		Changes:        f.changes,
		Gateway:        f.gateway,
		PaymentMethods: paymentmethod.NewRegistry(f.store.PaymentMethods(), f.gateway, f.clock, log, 0),
		Discounts:      validate_discount.NewInteractor(f.discounts, log),
		Locker:         f.locker,
		Keys:           idempotency.NewGenerator(),
		Clock:          f.clock,
		Metrics:        metrics.NewUnregistered(),
		Logger:         log,
	}, Config{
		LockTTL:          time.Minute,
		Timeout:          5 * time.Second,
		ChargeMaxRetries: 2,
		ChargeBackoff:    time.Millisecond,
	})
}

func (f *fixture) subscription(t *testing.T) domain.SubscriptionState {
	t.Helper()
	sub, err := f.store.Subscriptions().FindByID(context.Background(), "sub-123")
	require.NoError(t, err)
	return sub.Snapshot()
}

func upgradeRequest(nonce string) domain.ChangeRequest {
	return domain.ChangeRequest{
		BusinessID:      "biz-456",
		SubscriptionID:  "sub-123",
		TargetPlanID:    proPlan.ID,
		PaymentMethodID: "pm-1",
		ExpectedVersion: 3,
		IdempotencyKey:  nonce,
	}
}

func chargeOf(amount string) interface{} {
	want := decimal.RequireFromString(amount)
	return mock.MatchedBy(func(req domain.ChargeRequest) bool {
		return req.Amount.Equal(want) && req.PaymentMethodID == "pm-1" && req.GatewayToken == "tok_visa"
	})
}

func succeeded(txn string) *domain.Charge {
	return &domain.Charge{TransactionID: txn, Status: domain.ChargeSucceeded, Amount: decimal.NewFromInt(750), Currency: "NGN"}
}

func TestExecuteChange_UpgradeChargesAndCommits(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.gateway.On("Charge", mock.Anything, chargeOf("750")).Return(succeeded("txn-1"), nil).Once()

	result, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, result.Outcome)
	assert.Equal(t, domain.ChangeTypeUpgrade, result.ChangeType)
	assert.True(t, result.EffectiveDate.Immediate)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "txn-1", result.Payment.TransactionID)
	assert.True(t, result.Payment.Amount.Equal(decimal.NewFromInt(750)))

	state := f.subscription(t)
	assert.Equal(t, proPlan.ID, state.PlanID)
	assert.Equal(t, int64(4), state.Version)
	assert.Equal(t, periodEnd, state.PeriodEnd)
	f.gateway.AssertExpectations(t)
}

func TestExecuteChange_ReplayReturnsStoredResult(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(succeeded("txn-1"), nil)
	interactor := f.interactor()

	first, err := interactor.Execute(context.Background(), upgradeRequest("nonce-1"))
	require.NoError(t, err)
	second, err := interactor.Execute(context.Background(), upgradeRequest("nonce-1"))
	require.NoError(t, err)

	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, first.Payment.TransactionID, second.Payment.TransactionID)
	assert.Equal(t, first.Subscription.Version, second.Subscription.Version)
	assert.Equal(t, int64(4), f.subscription(t).Version)
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestExecuteChange_SingleFlightPerSubscription(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	started := make(chan struct{})
	proceed := make(chan struct{})
	f.gateway.On("Charge", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-proceed
		}).
		Return(succeeded("txn-1"), nil).Once()
	interactor := f.interactor()

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = interactor.Execute(context.Background(), upgradeRequest("nonce-1"))
	}()

	<-started
	_, err := interactor.Execute(context.Background(), upgradeRequest("nonce-2"))
	close(proceed)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.ErrorIs(t, err, domain.ErrExecutionInProgress)
	assert.True(t, ierr.IsConflict(err))
	assert.Equal(t, int64(4), f.subscription(t).Version)
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestExecuteChange_TimeoutThenRetrySucceeds(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	timeout := domain.NewGatewayError(domain.GatewayTimeout, "", "request timed out")
	f.gateway.On("Charge", mock.Anything, chargeOf("750")).Return(nil, timeout).Once()
	f.gateway.On("Charge", mock.Anything, chargeOf("750")).Return(succeeded("txn-1"), nil).Once()

	result, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "txn-1", result.Payment.TransactionID)
	assert.Equal(t, int64(4), f.subscription(t).Version)
	f.gateway.AssertNumberOfCalls(t, "Charge", 2)
	f.gateway.AssertNotCalled(t, "ChargeStatus", mock.Anything, mock.Anything)

	calls := f.gateway.Calls
	assert.Equal(t,
		calls[0].Arguments.Get(1).(domain.ChargeRequest).IdempotencyKey,
		calls[1].Arguments.Get(1).(domain.ChargeRequest).IdempotencyKey,
	)
}

func TestExecuteChange_ExhaustedRetriesConfirmedByStatusCheck(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	timeout := domain.NewGatewayError(domain.GatewayTimeout, "", "request timed out")
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, timeout)
	f.gateway.On("ChargeStatus", mock.Anything, mock.Anything).Return(succeeded("txn-late"), nil).Once()

	result, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	require.NoError(t, err)
	assert.Equal(t, "txn-late", result.Payment.TransactionID)
	f.gateway.AssertNumberOfCalls(t, "Charge", 3)
	assert.Equal(t, proPlan.ID, f.subscription(t).PlanID)
}

func TestExecuteChange_ExhaustedRetriesWithoutChargeIsTransient(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	unavailable := domain.NewGatewayError(domain.GatewayProviderUnavailable, "", "503")
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, unavailable)
	f.gateway.On("ChargeStatus", mock.Anything, mock.Anything).Return(&domain.Charge{Status: domain.ChargeNotFound}, nil)

	_, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	assert.True(t, ierr.IsTransient(err))
	state := f.subscription(t)
	assert.Equal(t, basicPlan.ID, state.PlanID)
	assert.Equal(t, int64(3), state.Version)

	_, err = f.changes.FindResult(context.Background(), idempotency.NewGenerator().PlanChangeKey("sub-123", proPlan.ID, "nonce-1"))
	assert.True(t, ierr.IsNotFound(err))
}

func TestExecuteChange_DeclinedCardDoesNotMutate(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	declined := domain.NewGatewayError(domain.GatewayCardDeclined, "card_declined", "declined")
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, declined).Once()

	_, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	assert.True(t, ierr.IsPaymentFailed(err))
	assert.Equal(t, int64(3), f.subscription(t).Version)
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
	f.gateway.AssertNotCalled(t, "ChargeStatus", mock.Anything, mock.Anything)
}

type failingCommits struct {
	*memstore.ChangeRepo
	err error
}

func (f failingCommits) CommitChange(context.Context, *domain.Subscription, int64, *domain.ChangeResult) error {
	return f.err
}

func TestExecuteChange_CommitFailureAfterChargeNeedsReconciliation(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.changes = failingCommits{ChangeRepo: f.store.Changes(), err: errors.New("spanner: session lost")}
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(succeeded("txn-1"), nil).Once()
	interactor := f.interactor()

	_, err := interactor.Execute(context.Background(), upgradeRequest("nonce-1"))

	require.Error(t, err)
	assert.True(t, ierr.IsReconciliationRequired(err))
	assert.False(t, ierr.IsPaymentFailed(err))
	assert.Equal(t, "txn-1", ierr.Details(err)["transaction_id"])
	assert.Equal(t, "sub-123", ierr.Details(err)["subscription_id"])

	open, lerr := f.store.Changes().ListOpenReconciliations(context.Background(), 10)
	require.NoError(t, lerr)
	require.Len(t, open, 1)
	assert.Equal(t, "txn-1", open[0].TransactionID)
	assert.Equal(t, int64(3), open[0].ExpectedVersion)

	// A retry with the same key reports the same failure without charging.
	_, err = interactor.Execute(context.Background(), upgradeRequest("nonce-1"))
	assert.True(t, ierr.IsReconciliationRequired(err))
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestExecuteChange_OpenReconciliationBlocksNewKeys(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.changes = failingCommits{ChangeRepo: f.store.Changes(), err: errors.New("spanner: session lost")}
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(succeeded("txn-1"), nil).Once()
	interactor := f.interactor()

	_, err := interactor.Execute(context.Background(), upgradeRequest("nonce-1"))
	require.True(t, ierr.IsReconciliationRequired(err))

	_, err = interactor.Execute(context.Background(), upgradeRequest("nonce-2"))

	assert.True(t, ierr.IsReconciliationRequired(err))
	assert.Equal(t, "txn-1", ierr.Details(err)["transaction_id"])
	assert.Equal(t, int64(3), f.subscription(t).Version)
	f.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestExecuteChange_ResolvedReconciliationUnblocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, basicPlan.ID)
	resolvedAt := midPeriod
	require.NoError(t, f.store.Changes().SaveReconciliation(ctx, &domain.Reconciliation{
		IdempotencyKey: "plan_change-old",
		SubscriptionID: "sub-123",
		TransactionID:  "txn-old",
		CreatedAt:      periodStart,
		ResolvedAt:     &resolvedAt,
	}))
	f.gateway.On("Charge", mock.Anything, chargeOf("750")).Return(succeeded("txn-1"), nil).Once()

	result, err := f.interactor().Execute(ctx, upgradeRequest("nonce-1"))

	require.NoError(t, err)
	assert.Equal(t, "txn-1", result.Payment.TransactionID)
	f.gateway.AssertExpectations(t)
}

func TestExecuteChange_PendingChargeNeedsReconciliation(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	timeout := domain.NewGatewayError(domain.GatewayTimeout, "", "request timed out")
	f.gateway.On("Charge", mock.Anything, mock.Anything).Return(nil, timeout)
	f.gateway.On("ChargeStatus", mock.Anything, mock.Anything).
		Return(&domain.Charge{TransactionID: "txn-p", Status: domain.ChargePending}, nil).Once()

	_, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	assert.True(t, ierr.IsReconciliationRequired(err))
	assert.Equal(t, "txn-p", ierr.Details(err)["transaction_id"])
	f.gateway.AssertNumberOfCalls(t, "Charge", 3)

	open, lerr := f.store.Changes().ListOpenReconciliations(context.Background(), 10)
	require.NoError(t, lerr)
	require.Len(t, open, 1)
	assert.Equal(t, "txn-p", open[0].TransactionID)
	assert.Equal(t, int64(3), open[0].ExpectedVersion)

	state := f.subscription(t)
	assert.Equal(t, basicPlan.ID, state.PlanID)
	assert.Equal(t, int64(3), state.Version)

	_, err = f.changes.FindResult(context.Background(), idempotency.NewGenerator().PlanChangeKey("sub-123", proPlan.ID, "nonce-1"))
	assert.True(t, ierr.IsNotFound(err))
}

func TestExecuteChange_UpgradeRequiresPaymentMethod(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	req := upgradeRequest("nonce-1")
	req.PaymentMethodID = ""

	_, err := f.interactor().Execute(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrPaymentMethodRequired)
	assert.Contains(t, ierr.Fields(err), "payment_method_id")
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestExecuteChange_DowngradeIsScheduled(t *testing.T) {
	f := newFixture(t, proPlan.ID)

	result, err := f.interactor().Execute(context.Background(), domain.ChangeRequest{
		BusinessID:     "biz-456",
		SubscriptionID: "sub-123",
		TargetPlanID:   basicPlan.ID,
		IdempotencyKey: "nonce-1",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ChangeTypeDowngrade, result.ChangeType)
	assert.False(t, result.EffectiveDate.Immediate)
	assert.Equal(t, periodEnd, result.EffectiveDate.At)
	assert.Nil(t, result.Payment)

	state := f.subscription(t)
	assert.Equal(t, proPlan.ID, state.PlanID)
	assert.Equal(t, basicPlan.ID, state.PendingPlanID)
	require.NotNil(t, state.PendingEffectiveAt)
	assert.Equal(t, periodEnd, *state.PendingEffectiveAt)
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestExecuteChange_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	req := upgradeRequest("nonce-1")
	req.ExpectedVersion = 2

	_, err := f.interactor().Execute(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrStalePreview)
	assert.True(t, ierr.IsConflict(err))
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestExecuteChange_EndedPeriodConflicts(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.clock = domain.FixedClock{FixedTime: periodEnd.Add(time.Hour)}

	_, err := f.interactor().Execute(context.Background(), upgradeRequest("nonce-1"))

	assert.ErrorIs(t, err, domain.ErrStalePreview)
}

func TestExecuteChange_InvalidDiscountBlocks(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.discounts.On("Validate", mock.Anything, "BOGUS", proPlan.ID, mock.Anything).
		Return(&domain.DiscountResult{Code: "BOGUS", IsValid: false}, nil)
	req := upgradeRequest("nonce-1")
	req.DiscountCode = "BOGUS"

	_, err := f.interactor().Execute(context.Background(), req)

	assert.True(t, ierr.IsValidation(err))
	assert.Contains(t, ierr.Fields(err), "discount_code")
	f.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestExecuteChange_ValidDiscountChargesFinalAmount(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	f.discounts.On("Validate", mock.Anything, "SAVE50", proPlan.ID, mock.Anything).
		Return(&domain.DiscountResult{IsValid: true, FinalAmount: decimal.NewFromInt(700)}, nil)
	f.gateway.On("Charge", mock.Anything, chargeOf("700")).Return(succeeded("txn-1"), nil).Once()
	req := upgradeRequest("nonce-1")
	req.DiscountCode = "SAVE50"

	result, err := f.interactor().Execute(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, result.Payment.Amount.Equal(decimal.NewFromInt(700)))
	require.NotNil(t, result.Discount)
	assert.True(t, result.Discount.DiscountAmount.Equal(decimal.NewFromInt(50)))
	f.gateway.AssertExpectations(t)
}

func TestExecuteChange_UsageOverLimitBlocks(t *testing.T) {
	f := newFixture(t, proPlan.ID)
	require.NoError(t, f.store.Usage().SetUsage(context.Background(), "biz-456", domain.Usage{domain.ResourceStaff: 8}))

	_, err := f.interactor().Execute(context.Background(), domain.ChangeRequest{
		BusinessID:     "biz-456",
		SubscriptionID: "sub-123",
		TargetPlanID:   basicPlan.ID,
		IdempotencyKey: "nonce-1",
	})

	assert.True(t, ierr.IsBusinessRule(err))
	assert.ErrorIs(t, err, domain.ErrPlanLimitsExceeded)
	assert.Equal(t, int64(3), f.subscription(t).Version)
}

func TestExecuteChange_CallerCancellationDoesNotAbortCharge(t *testing.T) {
	f := newFixture(t, basicPlan.ID)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.On("Charge", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(succeeded("txn-1"), nil).Once()

	result, err := f.interactor().Execute(ctx, upgradeRequest("nonce-1"))

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, proPlan.ID, f.subscription(t).PlanID)
}

func TestExecuteChange_RequestValidation(t *testing.T) {
	f := newFixture(t, basicPlan.ID)

	_, err := f.interactor().Execute(context.Background(), domain.ChangeRequest{BusinessID: "biz-456"})

	require.Error(t, err)
	fields := ierr.Fields(err)
	assert.Contains(t, fields, "subscription_id")
	assert.Contains(t, fields, "plan_id")
	assert.Contains(t, fields, "idempotency_key")
}
