// Package memstore keeps every repository port in process memory. It backs
// the memory store driver and interactor tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var (
	_ contracts.SubscriptionRepository  = (*SubscriptionRepo)(nil)
	_ contracts.PlanRepository          = (*PlanRepo)(nil)
	_ contracts.UsageReader             = (*UsageRepo)(nil)
	_ contracts.PaymentMethodRepository = (*PaymentMethodRepo)(nil)
	_ contracts.ChangeStore             = (*ChangeRepo)(nil)
)

// Store is the shared in-memory state. All repos created from one Store see
// the same data under one lock.
type Store struct {
	mu              sync.RWMutex
	subscriptions   map[string]domain.SubscriptionState
	plans           map[string]domain.Plan
	usage           map[string]domain.Usage
	paymentMethods  map[string]domain.PaymentMethod
	results         map[string]domain.ChangeResult
	reconciliations map[string]domain.Reconciliation
}

// New creates an empty store
func New() *Store {
	return &Store{
		subscriptions:   make(map[string]domain.SubscriptionState),
		plans:           make(map[string]domain.Plan),
		usage:           make(map[string]domain.Usage),
		paymentMethods:  make(map[string]domain.PaymentMethod),
		results:         make(map[string]domain.ChangeResult),
		reconciliations: make(map[string]domain.Reconciliation),
	}
}

func (s *Store) Subscriptions() *SubscriptionRepo   { return &SubscriptionRepo{s} }
func (s *Store) Plans() *PlanRepo                   { return &PlanRepo{s} }
func (s *Store) Usage() *UsageRepo                  { return &UsageRepo{s} }
func (s *Store) PaymentMethods() *PaymentMethodRepo { return &PaymentMethodRepo{s} }
func (s *Store) Changes() *ChangeRepo               { return &ChangeRepo{s} }

// SubscriptionRepo implements contracts.SubscriptionRepository
type SubscriptionRepo struct{ s *Store }

func (r *SubscriptionRepo) FindByID(_ context.Context, id string) (*domain.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	state, ok := r.s.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return domain.ReconstructFromPersistence(state), nil
}

func (r *SubscriptionRepo) FindActiveByBusiness(_ context.Context, businessID string) (*domain.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if state, ok := r.s.activeFor(businessID); ok {
		return domain.ReconstructFromPersistence(state), nil
	}
	return nil, domain.ErrSubscriptionNotFound
}

func (r *SubscriptionRepo) Create(_ context.Context, sub *domain.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.activeFor(sub.BusinessID()); ok {
		return domain.ErrActiveSubscriptionExists
	}
	r.s.subscriptions[sub.ID()] = sub.Snapshot()
	return nil
}

func (r *SubscriptionRepo) Save(_ context.Context, sub *domain.Subscription, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.subscriptions[sub.ID()]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConcurrentModification
	}
	r.s.subscriptions[sub.ID()] = sub.Snapshot()
	return nil
}

func (r *SubscriptionRepo) ListDueForRenewal(_ context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	due := lo.Filter(lo.Values(r.s.subscriptions), func(st domain.SubscriptionState, _ int) bool {
		return st.Status != domain.StatusCancelled && !st.PeriodEnd.After(cutoff)
	})
	sort.Slice(due, func(i, j int) bool {
		if due[i].PeriodEnd.Equal(due[j].PeriodEnd) {
			return due[i].ID < due[j].ID
		}
		return due[i].PeriodEnd.Before(due[j].PeriodEnd)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return lo.Map(due, func(st domain.SubscriptionState, _ int) *domain.Subscription {
		return domain.ReconstructFromPersistence(st)
	}), nil
}

// activeFor expects the caller to hold the lock.
func (s *Store) activeFor(businessID string) (domain.SubscriptionState, bool) {
	for _, st := range s.subscriptions {
		if st.BusinessID == businessID && st.Status != domain.StatusCancelled {
			return st, true
		}
	}
	return domain.SubscriptionState{}, false
}

// PlanRepo implements contracts.PlanRepository
type PlanRepo struct{ s *Store }

func (r *PlanRepo) FindPlan(_ context.Context, planID string) (*domain.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	plan, ok := r.s.plans[planID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &plan, nil
}

func (r *PlanRepo) SavePlan(_ context.Context, plan domain.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.plans[plan.ID] = plan
	return nil
}

// UsageRepo implements contracts.UsageReader
type UsageRepo struct{ s *Store }

func (r *UsageRepo) Usage(_ context.Context, businessID string) (domain.Usage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	usage := domain.Usage{}
	for k, v := range r.s.usage[businessID] {
		usage[k] = v
	}
	return usage, nil
}

// SetUsage records the business's current consumption.
func (r *UsageRepo) SetUsage(_ context.Context, businessID string, usage domain.Usage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.usage[businessID] = usage
	return nil
}

// PaymentMethodRepo implements contracts.PaymentMethodRepository
type PaymentMethodRepo struct{ s *Store }

func (r *PaymentMethodRepo) ListByBusiness(_ context.Context, businessID string) ([]domain.PaymentMethod, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	methods := lo.Filter(lo.Values(r.s.paymentMethods), func(m domain.PaymentMethod, _ int) bool {
		return m.BusinessID == businessID
	})
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].CreatedAt.Equal(methods[j].CreatedAt) {
			return methods[i].ID < methods[j].ID
		}
		return methods[i].CreatedAt.Before(methods[j].CreatedAt)
	})
	return methods, nil
}

func (r *PaymentMethodRepo) FindByID(_ context.Context, businessID, id string) (*domain.PaymentMethod, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.paymentMethods[id]
	if !ok || m.BusinessID != businessID {
		return nil, domain.ErrPaymentMethodNotFound
	}
	return &m, nil
}

func (r *PaymentMethodRepo) Add(_ context.Context, m domain.PaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if m.IsDefault {
		for id, other := range r.s.paymentMethods {
			if other.BusinessID == m.BusinessID && other.IsDefault {
				other.IsDefault = false
				r.s.paymentMethods[id] = other
			}
		}
	}
	r.s.paymentMethods[m.ID] = m
	return nil
}

// ChangeRepo implements contracts.ChangeStore
type ChangeRepo struct{ s *Store }

func (r *ChangeRepo) FindResult(_ context.Context, idempotencyKey string) (*domain.ChangeResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result, ok := r.s.results[idempotencyKey]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	return &result, nil
}

func (r *ChangeRepo) CommitChange(_ context.Context, sub *domain.Subscription, expectedVersion int64, result *domain.ChangeResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.subscriptions[sub.ID()]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrStalePreview
	}
	if _, exists := r.s.results[result.IdempotencyKey]; exists {
		return domain.ErrResultExists
	}

	r.s.subscriptions[sub.ID()] = sub.Snapshot()
	r.s.results[result.IdempotencyKey] = *result
	return nil
}

func (r *ChangeRepo) FindReconciliation(_ context.Context, idempotencyKey string) (*domain.Reconciliation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.reconciliations[idempotencyKey]
	if !ok {
		return nil, domain.ErrReconciliationNotFound
	}
	return &rec, nil
}

func (r *ChangeRepo) FindOpenReconciliationBySubscription(_ context.Context, subscriptionID string) (*domain.Reconciliation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	open := lo.Filter(lo.Values(r.s.reconciliations), func(rec domain.Reconciliation, _ int) bool {
		return rec.SubscriptionID == subscriptionID && !rec.Resolved()
	})
	if len(open) == 0 {
		return nil, domain.ErrReconciliationNotFound
	}
	oldest := lo.MinBy(open, func(a, b domain.Reconciliation) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return &oldest, nil
}

func (r *ChangeRepo) SaveReconciliation(_ context.Context, rec *domain.Reconciliation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.reconciliations[rec.IdempotencyKey] = *rec
	return nil
}

func (r *ChangeRepo) ListOpenReconciliations(_ context.Context, limit int) ([]domain.Reconciliation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	open := lo.Filter(lo.Values(r.s.reconciliations), func(rec domain.Reconciliation, _ int) bool {
		return !rec.Resolved()
	})
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}
