package repo

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"google.golang.org/api/iterator"
)

var _ contracts.SubscriptionRepository = (*SubscriptionRepo)(nil)

const subscriptionsTable = "subscriptions"

var subscriptionColumns = []string{
	"id", "business_id", "plan_id", "status", "period_start", "period_end",
	"cancel_at_period_end", "trial_start", "trial_end", "pending_plan_id",
	"pending_effective_at", "version", "updated_at",
}

type subscriptionRow struct {
	ID                 string             `spanner:"id"`
	BusinessID         string             `spanner:"business_id"`
	PlanID             string             `spanner:"plan_id"`
	Status             string             `spanner:"status"`
	PeriodStart        time.Time          `spanner:"period_start"`
	PeriodEnd          time.Time          `spanner:"period_end"`
	CancelAtPeriodEnd  bool               `spanner:"cancel_at_period_end"`
	TrialStart         spanner.NullTime   `spanner:"trial_start"`
	TrialEnd           spanner.NullTime   `spanner:"trial_end"`
	PendingPlanID      spanner.NullString `spanner:"pending_plan_id"`
	PendingEffectiveAt spanner.NullTime   `spanner:"pending_effective_at"`
	Version            int64              `spanner:"version"`
	UpdatedAt          time.Time          `spanner:"updated_at"`
}

func newSubscriptionRow(sub *domain.Subscription) subscriptionRow {
	st := sub.Snapshot()
	return subscriptionRow{
		ID:                 st.ID,
		BusinessID:         st.BusinessID,
		PlanID:             st.PlanID,
		Status:             string(st.Status),
		PeriodStart:        st.PeriodStart,
		PeriodEnd:          st.PeriodEnd,
		CancelAtPeriodEnd:  st.CancelAtPeriodEnd,
		TrialStart:         nullTime(st.TrialStart),
		TrialEnd:           nullTime(st.TrialEnd),
		PendingPlanID:      spanner.NullString{StringVal: st.PendingPlanID, Valid: st.PendingPlanID != ""},
		PendingEffectiveAt: nullTime(st.PendingEffectiveAt),
		Version:            st.Version,
		UpdatedAt:          st.UpdatedAt,
	}
}

func (r subscriptionRow) toDomain() *domain.Subscription {
	return domain.ReconstructFromPersistence(domain.SubscriptionState{
		ID:                 r.ID,
		BusinessID:         r.BusinessID,
		PlanID:             r.PlanID,
		Status:             domain.SubscriptionStatus(r.Status),
		PeriodStart:        r.PeriodStart,
		PeriodEnd:          r.PeriodEnd,
		CancelAtPeriodEnd:  r.CancelAtPeriodEnd,
		TrialStart:         timePtr(r.TrialStart),
		TrialEnd:           timePtr(r.TrialEnd),
		PendingPlanID:      r.PendingPlanID.StringVal,
		PendingEffectiveAt: timePtr(r.PendingEffectiveAt),
		Version:            r.Version,
		UpdatedAt:          r.UpdatedAt,
	})
}

func nullTime(t *time.Time) spanner.NullTime {
	if t == nil {
		return spanner.NullTime{}
	}
	return spanner.NullTime{Time: *t, Valid: true}
}

func timePtr(t spanner.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// SubscriptionRepo implements the subscription repository interface using Cloud Spanner
type SubscriptionRepo struct {
	client *spanner.Client
}

// NewSubscriptionRepo creates a new subscription repository
func NewSubscriptionRepo(client *spanner.Client) *SubscriptionRepo {
	return &SubscriptionRepo{client: client}
}

// FindByID retrieves a subscription by ID
func (r *SubscriptionRepo) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	row, err := r.client.Single().ReadRow(ctx, subscriptionsTable, spanner.Key{id}, subscriptionColumns)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, storeError(err, "failed to read subscription")
	}

	var sr subscriptionRow
	if err := row.ToStruct(&sr); err != nil {
		return nil, storeError(err, "failed to decode subscription")
	}
	return sr.toDomain(), nil
}

// FindActiveByBusiness retrieves the business's non-cancelled subscription
func (r *SubscriptionRepo) FindActiveByBusiness(ctx context.Context, businessID string) (*domain.Subscription, error) {
	sub, err := findActive(ctx, r.client.Single(), businessID)
	if err != nil {
		return nil, storeError(err, "failed to query active subscription")
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

type queryer interface {
	Query(ctx context.Context, statement spanner.Statement) *spanner.RowIterator
}

func findActive(ctx context.Context, q queryer, businessID string) (*domain.Subscription, error) {
	stmt := spanner.Statement{
		SQL: `SELECT ` + strings.Join(subscriptionColumns, ", ") + `
			FROM subscriptions@{FORCE_INDEX=subscriptions_by_business}
			WHERE business_id = @business_id AND status != @cancelled
			LIMIT 1`,
		Params: map[string]interface{}{
			"business_id": businessID,
			"cancelled":   string(domain.StatusCancelled),
		},
	}

	iter := q.Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sr subscriptionRow
	if err := row.ToStruct(&sr); err != nil {
		return nil, err
	}
	return sr.toDomain(), nil
}

// Create inserts sub unless its business already has a live subscription.
// The check and the insert share one read-write transaction.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	_, err := r.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		existing, err := findActive(ctx, txn, sub.BusinessID())
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrActiveSubscriptionExists
		}

		m, err := spanner.InsertStruct(subscriptionsTable, newSubscriptionRow(sub))
		if err != nil {
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	return storeError(err, "failed to create subscription")
}

// Save persists sub if the stored version still equals expectedVersion.
func (r *SubscriptionRepo) Save(ctx context.Context, sub *domain.Subscription, expectedVersion int64) error {
	_, err := r.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		m, err := guardedUpdate(ctx, txn, sub, expectedVersion, domain.ErrConcurrentModification)
		if err != nil {
			return err
		}
		return txn.BufferWrite([]*spanner.Mutation{m})
	})
	return storeError(err, "failed to save subscription")
}

// guardedUpdate re-reads the stored version inside txn and builds the update
// mutation only when it matches expectedVersion.
func guardedUpdate(ctx context.Context, txn *spanner.ReadWriteTransaction, sub *domain.Subscription, expectedVersion int64, mismatch error) (*spanner.Mutation, error) {
	row, err := txn.ReadRow(ctx, subscriptionsTable, spanner.Key{sub.ID()}, []string{"version"})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, err
	}

	var version int64
	if err := row.Column(0, &version); err != nil {
		return nil, err
	}
	if version != expectedVersion {
		return nil, mismatch
	}
	return spanner.UpdateStruct(subscriptionsTable, newSubscriptionRow(sub))
}

// ListDueForRenewal returns live subscriptions whose period ended by cutoff
func (r *SubscriptionRepo) ListDueForRenewal(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	stmt := spanner.Statement{
		SQL: `SELECT ` + strings.Join(subscriptionColumns, ", ") + `
			FROM subscriptions@{FORCE_INDEX=subscriptions_by_period_end}
			WHERE period_end <= @cutoff AND status != @cancelled
			ORDER BY period_end, id
			LIMIT @limit`,
		Params: map[string]interface{}{
			"cutoff":    cutoff,
			"cancelled": string(domain.StatusCancelled),
			"limit":     int64(limit),
		},
	}

	var subs []*domain.Subscription
	err := r.client.Single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		var sr subscriptionRow
		if err := row.ToStruct(&sr); err != nil {
			return err
		}
		subs = append(subs, sr.toDomain())
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to list subscriptions due for renewal")
	}
	return subs, nil
}
