package renew_subscription

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/adapters"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo/memstore"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func seed(t *testing.T, states ...domain.SubscriptionState) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	for _, p := range []domain.Plan{
		{ID: "plan-basic", Price: decimal.NewFromInt(1500), Currency: "NGN", Interval: domain.IntervalMonthly},
		{ID: "plan-pro", Price: decimal.NewFromInt(3000), Currency: "NGN", Interval: domain.IntervalMonthly},
		{ID: "plan-annual", Price: decimal.NewFromInt(30000), Currency: "NGN", Interval: domain.IntervalYearly},
	} {
		require.NoError(t, store.Plans().SavePlan(ctx, p))
	}
	for _, st := range states {
		require.NoError(t, store.Subscriptions().Create(ctx, domain.ReconstructFromPersistence(st)))
	}
	return store
}

func newInteractor(store *memstore.Store, now time.Time) *Interactor {
	clock := domain.FixedClock{FixedTime: now}
	return NewInteractor(store.Subscriptions(), store.Plans(), adapters.NewLocalLocker(clock), clock, logger.NewNop(), time.Minute)
}

func state(id, business, planID string) domain.SubscriptionState {
	return domain.SubscriptionState{
		ID:          id,
		BusinessID:  business,
		PlanID:      planID,
		Status:      domain.StatusActive,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Version:     2,
	}
}

func TestRenew_AppliesPendingChange(t *testing.T) {
	st := state("sub-1", "biz-1", "plan-pro")
	effective := periodEnd
	st.PendingPlanID = "plan-annual"
	st.PendingEffectiveAt = &effective
	store := seed(t, st)

	event, err := newInteractor(store, periodEnd.Add(time.Hour)).Execute(context.Background(), "sub-1")

	require.NoError(t, err)
	assert.Equal(t, "plan-pro", event.FromPlanID)
	assert.Equal(t, "plan-annual", event.ToPlanID)

	sub, err := store.Subscriptions().FindByID(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-annual", sub.PlanID())
	assert.Empty(t, sub.PendingPlanID())
	assert.Equal(t, periodEnd, sub.PeriodStart())
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), sub.PeriodEnd())
	assert.Equal(t, int64(3), sub.Version())
}

func TestRenew_CatchesUpMissedPeriods(t *testing.T) {
	store := seed(t, state("sub-1", "biz-1", "plan-basic"))
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	_, err := newInteractor(store, now).Execute(context.Background(), "sub-1")

	require.NoError(t, err)
	sub, _ := store.Subscriptions().FindByID(context.Background(), "sub-1")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), sub.PeriodStart())
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), sub.PeriodEnd())
	assert.Equal(t, int64(4), sub.Version())
}

func TestRenew_EndsCancelledSubscription(t *testing.T) {
	st := state("sub-1", "biz-1", "plan-basic")
	st.CancelAtPeriodEnd = true
	store := seed(t, st)

	event, err := newInteractor(store, periodEnd).Execute(context.Background(), "sub-1")

	require.NoError(t, err)
	assert.True(t, event.Cancelled)
	sub, _ := store.Subscriptions().FindByID(context.Background(), "sub-1")
	assert.Equal(t, domain.StatusCancelled, sub.Status())
}

func TestRenew_PeriodNotEnded(t *testing.T) {
	store := seed(t, state("sub-1", "biz-1", "plan-basic"))

	_, err := newInteractor(store, periodEnd.Add(-time.Second)).Execute(context.Background(), "sub-1")

	assert.ErrorIs(t, err, domain.ErrPeriodNotEnded)
}

func TestRenewDue_Batch(t *testing.T) {
	notDue := state("sub-3", "biz-3", "plan-basic")
	notDue.PeriodEnd = periodEnd.AddDate(0, 0, 10)
	cancelling := state("sub-2", "biz-2", "plan-pro")
	cancelling.CancelAtPeriodEnd = true
	store := seed(t, state("sub-1", "biz-1", "plan-basic"), cancelling, notDue)

	interactor := newInteractor(store, periodEnd.Add(time.Hour))
	summary, err := interactor.RenewDue(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, Summary{Renewed: 1, Cancelled: 1}, summary)
}

func TestRenewDue_SkipsLockedSubscription(t *testing.T) {
	store := seed(t, state("sub-1", "biz-1", "plan-basic"))
	now := periodEnd.Add(time.Hour)
	clock := domain.FixedClock{FixedTime: now}
	locker := adapters.NewLocalLocker(clock)
	interactor := NewInteractor(store.Subscriptions(), store.Plans(), locker, clock, logger.NewNop(), time.Minute)

	release, err := locker.TryLock(context.Background(), "sub-1", time.Minute)
	require.NoError(t, err)
	defer release()

	summary, err := interactor.RenewDue(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 1}, summary)
}
