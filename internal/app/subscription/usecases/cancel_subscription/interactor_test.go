package cancel_subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts/mocks"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

var (
	startDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	endDate   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func activeSubscription(status domain.SubscriptionStatus) *domain.Subscription {
	effective := endDate
	return domain.ReconstructFromPersistence(domain.SubscriptionState{
		ID:                 "sub-123",
		BusinessID:         "biz-456",
		PlanID:             "plan-pro",
		Status:             status,
		PeriodStart:        startDate,
		PeriodEnd:          endDate,
		PendingPlanID:      "plan-basic",
		PendingEffectiveAt: &effective,
		Version:            7,
	})
}

func newInteractor(repo *mocks.MockSubscriptionRepository, locker *mocks.MockExecutionLocker, now time.Time) *Interactor {
	return NewInteractor(repo, locker, domain.FixedClock{FixedTime: now}, logger.NewNop(), time.Minute)
}

func TestCancelSubscription_Success(t *testing.T) {
	// Setup
	ctx := context.Background()
	cancelDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mockRepo := new(mocks.MockSubscriptionRepository)
	mockLocker := new(mocks.MockExecutionLocker)
	released := false
	interactor := newInteractor(mockRepo, mockLocker, cancelDate)

	// Expectations
	mockLocker.On("TryLock", ctx, "sub-123", time.Minute).Return(func() { released = true }, nil)
	mockRepo.On("FindByID", ctx, "sub-123").Return(activeSubscription(domain.StatusActive), nil)
	mockRepo.On("Save", ctx, mock.MatchedBy(func(s *domain.Subscription) bool {
		return s.ID() == "sub-123" && s.CancelAtPeriodEndFlag() && s.PendingPlanID() == "" && s.Version() == 8
	}), int64(7)).Return(nil)

	// Execute
	event, err := interactor.Execute(ctx, Request{BusinessID: "biz-456", SubscriptionID: "sub-123"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "sub-123", event.SubscriptionID)
	assert.Equal(t, endDate, event.EffectiveAt)
	assert.Equal(t, cancelDate, event.CancelledAt)
	assert.True(t, released)
	mockRepo.AssertExpectations(t)
}

func TestCancelSubscription_AlreadyCancelled(t *testing.T) {
	// Setup
	ctx := context.Background()

	mockRepo := new(mocks.MockSubscriptionRepository)
	mockLocker := new(mocks.MockExecutionLocker)
	interactor := newInteractor(mockRepo, mockLocker, time.Now())

	// Expectations
	mockLocker.On("TryLock", ctx, "sub-123", time.Minute).Return(func() {}, nil)
	mockRepo.On("FindByID", ctx, "sub-123").Return(activeSubscription(domain.StatusCancelled), nil)
	// Save should NOT be called

	// Execute
	event, err := interactor.Execute(ctx, Request{BusinessID: "biz-456", SubscriptionID: "sub-123"})

	// Assert
	assert.Error(t, err)
	assert.Equal(t, domain.ErrAlreadyCancelled, err)
	assert.Nil(t, event)
	mockRepo.AssertNotCalled(t, "Save", ctx, mock.Anything, mock.Anything)
}

func TestCancelSubscription_Conflicts(t *testing.T) {
	testCases := []struct {
		name    string
		lockErr error
		saveErr error
		want    error
	}{
		{
			name:    "plan change in progress",
			lockErr: domain.ErrExecutionInProgress,
			want:    domain.ErrExecutionInProgress,
		},
		{
			name:    "concurrent modification",
			saveErr: domain.ErrConcurrentModification,
			want:    domain.ErrConcurrentModification,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mockRepo := new(mocks.MockSubscriptionRepository)
			mockLocker := new(mocks.MockExecutionLocker)
			interactor := newInteractor(mockRepo, mockLocker, startDate.AddDate(0, 0, 3))

			if tc.lockErr != nil {
				mockLocker.On("TryLock", ctx, "sub-123", time.Minute).Return(nil, tc.lockErr)
			} else {
				mockLocker.On("TryLock", ctx, "sub-123", time.Minute).Return(func() {}, nil)
				mockRepo.On("FindByID", ctx, "sub-123").Return(activeSubscription(domain.StatusActive), nil)
				mockRepo.On("Save", ctx, mock.Anything, int64(7)).Return(tc.saveErr)
			}

			event, err := interactor.Execute(ctx, Request{BusinessID: "biz-456", SubscriptionID: "sub-123"})

			assert.ErrorIs(t, err, tc.want)
			assert.True(t, ierr.IsConflict(err))
			assert.Nil(t, event)
		})
	}
}

func TestCancelSubscription_OtherBusiness(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(mocks.MockSubscriptionRepository)
	mockLocker := new(mocks.MockExecutionLocker)
	interactor := newInteractor(mockRepo, mockLocker, startDate)

	mockLocker.On("TryLock", ctx, "sub-123", time.Minute).Return(func() {}, nil)
	mockRepo.On("FindByID", ctx, "sub-123").Return(activeSubscription(domain.StatusActive), nil)

	_, err := interactor.Execute(ctx, Request{BusinessID: "biz-999", SubscriptionID: "sub-123"})

	assert.ErrorIs(t, err, domain.ErrBusinessMismatch)
	mockRepo.AssertNotCalled(t, "Save", ctx, mock.Anything, mock.Anything)
}
