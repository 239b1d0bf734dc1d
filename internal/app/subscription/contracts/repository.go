package contracts

import (
	"context"
	"time"

	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

// SubscriptionRepository defines the interface for subscription persistence
type SubscriptionRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Subscription, error)
	// FindActiveByBusiness returns the business's non-cancelled subscription,
	// or domain.ErrSubscriptionNotFound.
	FindActiveByBusiness(ctx context.Context, businessID string) (*domain.Subscription, error)
	// Create inserts a new subscription. It fails with a conflict when the
	// business already has a non-cancelled subscription.
	Create(ctx context.Context, sub *domain.Subscription) error
	// Save persists sub if the stored version still equals expectedVersion.
	Save(ctx context.Context, sub *domain.Subscription, expectedVersion int64) error
	// ListDueForRenewal returns non-cancelled subscriptions whose period ended
	// at or before cutoff, oldest first.
	ListDueForRenewal(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error)
}

// PlanCatalog resolves published plans
type PlanCatalog interface {
	FindPlan(ctx context.Context, planID string) (*domain.Plan, error)
}

// PlanRepository publishes plans into the catalog
type PlanRepository interface {
	PlanCatalog
	SavePlan(ctx context.Context, plan domain.Plan) error
}

// UsageReader reports a business's current resource consumption
type UsageReader interface {
	Usage(ctx context.Context, businessID string) (domain.Usage, error)
}

// PaymentMethodRepository stores tokenized payment instruments
type PaymentMethodRepository interface {
	ListByBusiness(ctx context.Context, businessID string) ([]domain.PaymentMethod, error)
	FindByID(ctx context.Context, businessID, id string) (*domain.PaymentMethod, error)
	// Add stores m. When m.IsDefault is set, every other method of the
	// business loses its default flag in the same write.
	Add(ctx context.Context, m domain.PaymentMethod) error
}

// ChangeStore records execution outcomes keyed by idempotency key
type ChangeStore interface {
	FindResult(ctx context.Context, idempotencyKey string) (*domain.ChangeResult, error)
	// CommitChange atomically saves sub (guarded by expectedVersion) and the
	// success result. A version mismatch yields domain.ErrStalePreview.
	CommitChange(ctx context.Context, sub *domain.Subscription, expectedVersion int64, result *domain.ChangeResult) error

	FindReconciliation(ctx context.Context, idempotencyKey string) (*domain.Reconciliation, error)
	// FindOpenReconciliationBySubscription returns the oldest unresolved record
	// for subscriptionID, or domain.ErrReconciliationNotFound.
	FindOpenReconciliationBySubscription(ctx context.Context, subscriptionID string) (*domain.Reconciliation, error)
	SaveReconciliation(ctx context.Context, rec *domain.Reconciliation) error
	ListOpenReconciliations(ctx context.Context, limit int) ([]domain.Reconciliation, error)
}
