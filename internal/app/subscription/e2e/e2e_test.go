package e2e

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/spanner"
	admin "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/adapters"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts/mocks"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/migrations"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/paymentmethod"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/cancel_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/create_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/execute_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/preview_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/reconcile_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/renew_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	"github.com/wuyiadepoju/planchange/internal/config"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/idempotency"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/metrics"
)

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	midPeriod   = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	catalog = []domain.Plan{
		{
			ID: "plan-basic", Name: "Basic", Price: decimal.NewFromInt(1500), Currency: "NGN",
			Interval: domain.IntervalMonthly, SortOrder: 1, Features: []string{"booking"},
			Limits: map[domain.Resource]int64{domain.ResourceStaff: 3},
		},
		{
			ID: "plan-pro", Name: "Pro", Price: decimal.NewFromInt(3000), Currency: "NGN",
			Interval: domain.IntervalMonthly, SortOrder: 2, Features: []string{"booking", "reports"},
			Limits: map[domain.Resource]int64{domain.ResourceStaff: 10},
		},
	}
)

// testSetup holds test dependencies
type testSetup struct {
	ctx      context.Context
	cfg      config.SpannerConfig
	client   *spanner.Client
	subs     *repo.SubscriptionRepo
	plans    *repo.PlanRepo
	usage    *repo.UsageRepo
	methods  *repo.PaymentMethodRepo
	changes  *repo.ChangeStore
	gateway  *mocks.MockPaymentGateway
	clock    domain.Clock
	log      *logger.Logger
	executor *execute_change.Interactor
}

// setupTest creates a fresh database on the emulator and wires the use cases
// against it. Tests are skipped when no emulator is configured.
func setupTest(t *testing.T) *testSetup {
	t.Helper()

	emulatorHost := os.Getenv("SPANNER_EMULATOR_HOST")
	if emulatorHost == "" {
		t.Skip("SPANNER_EMULATOR_HOST not set, skipping spanner e2e test")
	}

	cfg := config.SpannerConfig{
		Project:      "test-project",
		Instance:     "test-instance",
		Database:     fmt.Sprintf("test-db-%s", uuid.New().String()[:8]),
		EmulatorHost: emulatorHost,
	}
	log := logger.NewNop()

	setupCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, migrations.RunMigrations(setupCtx, cfg, log), "is the spanner emulator running? (docker compose up -d)")

	ctx := context.Background()
	client, err := repo.NewClient(ctx, cfg)
	require.NoError(t, err)

	ts := &testSetup{
		ctx:     ctx,
		cfg:     cfg,
		client:  client,
		subs:    repo.NewSubscriptionRepo(client),
		plans:   repo.NewPlanRepo(client),
		usage:   repo.NewUsageRepo(client),
		methods: repo.NewPaymentMethodRepo(client),
		changes: repo.NewChangeStore(client),
		gateway: new(mocks.MockPaymentGateway),
		clock:   domain.FixedClock{FixedTime: midPeriod},
		log:     log,
	}
	t.Cleanup(func() { ts.teardown(t) })

	for _, plan := range catalog {
		require.NoError(t, ts.plans.SavePlan(ctx, plan))
	}

	ts.executor = execute_change.NewInteractor(execute_change.Dependencies{
		Subscriptions:  ts.subs,
		Plans:          repo.NewCachedPlanCatalog(ts.plans, time.Minute),
		Usage:          ts.usage,
		Changes:        ts.changes,
		Gateway:        ts.gateway,
		PaymentMethods: paymentmethod.NewRegistry(ts.methods, ts.gateway, ts.clock, log, 5*time.Second),
		Discounts:      validate_discount.NewInteractor(nil, log),
		Locker:         adapters.NewLocalLocker(ts.clock),
		Keys:           idempotency.NewGenerator(),
		Clock:          ts.clock,
		Metrics:        metrics.NewUnregistered(),
		Logger:         log,
	}, execute_change.Config{
		LockTTL:          time.Minute,
		Timeout:          30 * time.Second,
		ChargeMaxRetries: 1,
		ChargeBackoff:    time.Millisecond,
	})
	return ts
}

// teardown drops the test database
func (ts *testSetup) teardown(t *testing.T) {
	ts.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminClient, err := admin.NewDatabaseAdminClient(ctx, ts.cfg.ClientOptions()...)
	if err != nil {
		t.Logf("Failed to create admin client: %v", err)
		return
	}
	defer adminClient.Close()

	if err := adminClient.DropDatabase(ctx, &databasepb.DropDatabaseRequest{Database: ts.cfg.DatabasePath()}); err != nil {
		t.Logf("Failed to drop database: %v", err)
	}
}

func (ts *testSetup) seedSubscription(t *testing.T, businessID, planID string) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, ts.subs.Create(ts.ctx, domain.ReconstructFromPersistence(domain.SubscriptionState{
		ID:          id,
		BusinessID:  businessID,
		PlanID:      planID,
		Status:      domain.StatusActive,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Version:     1,
	})))
	return id
}

func (ts *testSetup) seedCard(t *testing.T, businessID string) {
	t.Helper()
	require.NoError(t, ts.methods.Add(ts.ctx, domain.PaymentMethod{
		ID:           "pm-" + businessID,
		BusinessID:   businessID,
		Brand:        domain.BrandVisa,
		Last4:        "4242",
		HolderName:   "Ada Obi",
		ExpMonth:     12,
		ExpYear:      2030,
		IsDefault:    true,
		GatewayToken: "tok_visa",
		CreatedAt:    midPeriod,
	}))
}

func TestCreateSubscription_OneActivePerBusiness(t *testing.T) {
	ts := setupTest(t)
	create := create_subscription.NewInteractor(ts.subs, ts.plans, ts.clock, ts.log)
	businessID := uuid.New().String()

	sub, event, err := create.Execute(ts.ctx, create_subscription.Request{BusinessID: businessID, PlanID: "plan-basic", TrialDays: 14})
	require.NoError(t, err)
	assert.Equal(t, sub.ID(), event.SubscriptionID)

	stored, err := ts.subs.FindActiveByBusiness(ts.ctx, businessID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID(), stored.ID())
	assert.Equal(t, domain.StatusTrial, stored.Status())

	_, _, err = create.Execute(ts.ctx, create_subscription.Request{BusinessID: businessID, PlanID: "plan-pro"})
	assert.True(t, ierr.IsConflict(err))
}

func TestPreview_ReadsCatalogAndUsage(t *testing.T) {
	ts := setupTest(t)
	businessID := uuid.New().String()
	subID := ts.seedSubscription(t, businessID, "plan-pro")
	require.NoError(t, ts.usage.SetUsage(ts.ctx, businessID, domain.Usage{domain.ResourceStaff: 5}))

	preview, err := preview_change.NewInteractor(ts.subs, ts.plans, ts.usage, validate_discount.NewInteractor(nil, ts.log),
		ts.clock, metrics.NewUnregistered(), ts.log, 5*time.Second).
		Execute(ts.ctx, preview_change.Request{BusinessID: businessID, SubscriptionID: subID, PlanID: "plan-basic"})

	require.NoError(t, err)
	assert.Equal(t, domain.ChangeTypeDowngrade, preview.ChangeType)
	assert.False(t, preview.CanProceed)
	require.Len(t, preview.Limitations, 1)
	assert.Equal(t, int64(5), preview.Limitations[0].Current)
	assert.Equal(t, []string{"reports"}, preview.RemovedFeatures)
}

func TestExecuteUpgrade_CommitsAndReplays(t *testing.T) {
	ts := setupTest(t)
	businessID := uuid.New().String()
	subID := ts.seedSubscription(t, businessID, "plan-basic")
	ts.seedCard(t, businessID)

	ts.gateway.On("Charge", mock.Anything, mock.MatchedBy(func(req domain.ChargeRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(750)) && req.GatewayToken == "tok_visa"
	})).Return(&domain.Charge{TransactionID: "txn-1", Status: domain.ChargeSucceeded}, nil).Once()

	req := domain.ChangeRequest{
		BusinessID:      businessID,
		SubscriptionID:  subID,
		TargetPlanID:    "plan-pro",
		PaymentMethodID: "pm-" + businessID,
		ExpectedVersion: 1,
		IdempotencyKey:  uuid.New().String(),
	}

	result, err := ts.executor.Execute(ts.ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	sub, err := ts.subs.FindByID(ts.ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, "plan-pro", sub.PlanID())
	assert.Equal(t, int64(2), sub.Version())
	assert.True(t, sub.PeriodEnd().Equal(periodEnd))

	replay, err := ts.executor.Execute(ts.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, result.IdempotencyKey, replay.IdempotencyKey)
	assert.Equal(t, "txn-1", replay.Payment.TransactionID)
	ts.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestExecuteUpgrade_ConcurrentRequestsChargeOnce(t *testing.T) {
	ts := setupTest(t)
	businessID := uuid.New().String()
	subID := ts.seedSubscription(t, businessID, "plan-basic")
	ts.seedCard(t, businessID)

	ts.gateway.On("Charge", mock.Anything, mock.Anything).
		After(50*time.Millisecond).
		Return(&domain.Charge{TransactionID: "txn-1", Status: domain.ChargeSucceeded}, nil)

	req := domain.ChangeRequest{
		BusinessID:      businessID,
		SubscriptionID:  subID,
		TargetPlanID:    "plan-pro",
		PaymentMethodID: "pm-" + businessID,
		IdempotencyKey:  uuid.New().String(),
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ts.executor.Execute(ts.ctx, req)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrExecutionInProgress)
		}
	}
	ts.gateway.AssertNumberOfCalls(t, "Charge", 1)
}

func TestCommitChange_StaleVersionConflicts(t *testing.T) {
	ts := setupTest(t)
	subID := ts.seedSubscription(t, uuid.New().String(), "plan-basic")

	sub, err := ts.subs.FindByID(ts.ctx, subID)
	require.NoError(t, err)
	_, err = sub.ApplyUpgrade("plan-pro", midPeriod)
	require.NoError(t, err)

	err = ts.changes.CommitChange(ts.ctx, sub, 7, &domain.ChangeResult{
		IdempotencyKey: "plan_change-" + uuid.New().String(),
		SubscriptionID: subID,
		Outcome:        domain.OutcomeSucceeded,
		CompletedAt:    midPeriod,
	})

	assert.ErrorIs(t, err, domain.ErrStalePreview)
	stored, err := ts.subs.FindByID(ts.ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, "plan-basic", stored.PlanID())
}

func TestReconcile_CommitsCapturedCharge(t *testing.T) {
	ts := setupTest(t)
	businessID := uuid.New().String()
	subID := ts.seedSubscription(t, businessID, "plan-basic")
	ts.seedCard(t, businessID)
	key := "plan_change-" + uuid.New().String()

	require.NoError(t, ts.changes.SaveReconciliation(ts.ctx, &domain.Reconciliation{
		IdempotencyKey:  key,
		BusinessID:      businessID,
		SubscriptionID:  subID,
		TargetPlanID:    "plan-pro",
		ChangeType:      domain.ChangeTypeUpgrade,
		ExpectedVersion: 1,
		TransactionID:   "txn-9",
		PaymentMethodID: "pm-" + businessID,
		Amount:          decimal.NewFromInt(750),
		Currency:        "NGN",
		Error:           "commit lost",
		CreatedAt:       midPeriod,
	}))
	open, err := ts.changes.FindOpenReconciliationBySubscription(ts.ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, key, open.IdempotencyKey)

	ts.gateway.On("ChargeStatus", mock.Anything, mock.Anything).
		Return(&domain.Charge{TransactionID: "txn-9", Status: domain.ChargeSucceeded}, nil).Once()

	reconcile := reconcile_change.NewInteractor(ts.changes, ts.subs, ts.methods, ts.gateway,
		adapters.NewLocalLocker(ts.clock), ts.clock, ts.log, time.Minute)
	result, err := reconcile.Execute(ts.ctx, key)

	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	sub, err := ts.subs.FindByID(ts.ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, "plan-pro", sub.PlanID())

	rec, err := ts.changes.FindReconciliation(ts.ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.Resolved())

	_, err = ts.changes.FindOpenReconciliationBySubscription(ts.ctx, subID)
	assert.ErrorIs(t, err, domain.ErrReconciliationNotFound)
}

func TestCancelThenRenew(t *testing.T) {
	ts := setupTest(t)
	businessID := uuid.New().String()
	subID := ts.seedSubscription(t, businessID, "plan-basic")
	locker := adapters.NewLocalLocker(ts.clock)

	_, err := cancel_subscription.NewInteractor(ts.subs, locker, ts.clock, ts.log, time.Minute).
		Execute(ts.ctx, cancel_subscription.Request{BusinessID: businessID, SubscriptionID: subID})
	require.NoError(t, err)

	after := domain.FixedClock{FixedTime: periodEnd.Add(time.Hour)}
	summary, err := renew_subscription.NewInteractor(ts.subs, ts.plans, adapters.NewLocalLocker(after), after, ts.log, time.Minute).
		RenewDue(ts.ctx, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Cancelled, 1)

	sub, err := ts.subs.FindByID(ts.ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, sub.Status())
}
