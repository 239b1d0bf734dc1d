// Package mocks provides testify mocks of the subscription contracts.
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

var (
	_ contracts.SubscriptionRepository  = (*MockSubscriptionRepository)(nil)
	_ contracts.PlanCatalog             = (*MockPlanCatalog)(nil)
	_ contracts.UsageReader             = (*MockUsageReader)(nil)
	_ contracts.PaymentMethodRepository = (*MockPaymentMethodRepository)(nil)
	_ contracts.ChangeStore             = (*MockChangeStore)(nil)
	_ contracts.PaymentGateway          = (*MockPaymentGateway)(nil)
	_ contracts.DiscountValidator       = (*MockDiscountValidator)(nil)
	_ contracts.ExecutionLocker         = (*MockExecutionLocker)(nil)
)

// MockSubscriptionRepository is a mock implementation of SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindActiveByBusiness(ctx context.Context, businessID string) (*domain.Subscription, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription, expectedVersion int64) error {
	return m.Called(ctx, sub, expectedVersion).Error(0)
}

func (m *MockSubscriptionRepository) ListDueForRenewal(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Subscription, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

// MockPlanCatalog is a mock implementation of PlanCatalog
type MockPlanCatalog struct {
	mock.Mock
}

func (m *MockPlanCatalog) FindPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Plan), args.Error(1)
}

// MockUsageReader is a mock implementation of UsageReader
type MockUsageReader struct {
	mock.Mock
}

func (m *MockUsageReader) Usage(ctx context.Context, businessID string) (domain.Usage, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Usage), args.Error(1)
}

// MockPaymentMethodRepository is a mock implementation of PaymentMethodRepository
type MockPaymentMethodRepository struct {
	mock.Mock
}

func (m *MockPaymentMethodRepository) ListByBusiness(ctx context.Context, businessID string) ([]domain.PaymentMethod, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) FindByID(ctx context.Context, businessID, id string) (*domain.PaymentMethod, error) {
	args := m.Called(ctx, businessID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentMethod), args.Error(1)
}

func (m *MockPaymentMethodRepository) Add(ctx context.Context, pm domain.PaymentMethod) error {
	return m.Called(ctx, pm).Error(0)
}

// MockChangeStore is a mock implementation of ChangeStore
type MockChangeStore struct {
	mock.Mock
}

func (m *MockChangeStore) FindResult(ctx context.Context, idempotencyKey string) (*domain.ChangeResult, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChangeResult), args.Error(1)
}

func (m *MockChangeStore) CommitChange(ctx context.Context, sub *domain.Subscription, expectedVersion int64, result *domain.ChangeResult) error {
	return m.Called(ctx, sub, expectedVersion, result).Error(0)
}

func (m *MockChangeStore) FindReconciliation(ctx context.Context, idempotencyKey string) (*domain.Reconciliation, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reconciliation), args.Error(1)
}

func (m *MockChangeStore) FindOpenReconciliationBySubscription(ctx context.Context, subscriptionID string) (*domain.Reconciliation, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reconciliation), args.Error(1)
}

func (m *MockChangeStore) SaveReconciliation(ctx context.Context, rec *domain.Reconciliation) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockChangeStore) ListOpenReconciliations(ctx context.Context, limit int) ([]domain.Reconciliation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Reconciliation), args.Error(1)
}

// MockPaymentGateway is a mock implementation of PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Charge), args.Error(1)
}

func (m *MockPaymentGateway) ChargeStatus(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Charge), args.Error(1)
}

func (m *MockPaymentGateway) Tokenize(ctx context.Context, businessID string, card domain.CardData) (*domain.CardToken, error) {
	args := m.Called(ctx, businessID, card)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CardToken), args.Error(1)
}

// MockDiscountValidator is a mock implementation of DiscountValidator
type MockDiscountValidator struct {
	mock.Mock
}

func (m *MockDiscountValidator) Validate(ctx context.Context, code, planID string, amount decimal.Decimal) (*domain.DiscountResult, error) {
	args := m.Called(ctx, code, planID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DiscountResult), args.Error(1)
}

// MockExecutionLocker is a mock implementation of ExecutionLocker
type MockExecutionLocker struct {
	mock.Mock
}

func (m *MockExecutionLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}
