package domain

import (
	"time"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "TRIAL"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusPastDue   SubscriptionStatus = "PAST_DUE"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// SubscriptionState is the flat, persistable view of a subscription. It is
// also what a ChangeResult reports as the new subscription snapshot.
type SubscriptionState struct {
	ID                 string             `json:"id"`
	BusinessID         string             `json:"business_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	PeriodStart        time.Time          `json:"period_start"`
	PeriodEnd          time.Time          `json:"period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	TrialStart         *time.Time         `json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	PendingPlanID      string             `json:"pending_plan_id,omitempty"`
	PendingEffectiveAt *time.Time         `json:"pending_effective_at,omitempty"`
	Version            int64              `json:"version"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Subscription is the aggregate root for a business's recurring plan
type Subscription struct {
	state SubscriptionState
}

// NewSubscription starts a subscription on plan. A positive trialDays opens a
// trial window that doubles as the first billing period.
func NewSubscription(id, businessID string, plan Plan, trialDays int, clock Clock) (*Subscription, *SubscriptionCreatedEvent, error) {
	if businessID == "" {
		return nil, nil, ErrInvalidBusinessID
	}
	if plan.ID == "" {
		return nil, nil, ErrInvalidPlanID
	}
	if plan.Price.IsNegative() {
		return nil, nil, ErrInvalidPrice
	}

	now := clock.Now()
	state := SubscriptionState{
		ID:          id,
		BusinessID:  businessID,
		PlanID:      plan.ID,
		Status:      StatusActive,
		PeriodStart: now,
		PeriodEnd:   plan.Interval.Next(now),
		Version:     1,
		UpdatedAt:   now,
	}
	if trialDays > 0 {
		trialEnd := now.AddDate(0, 0, trialDays)
		state.Status = StatusTrial
		state.TrialStart = &now
		state.TrialEnd = &trialEnd
		state.PeriodEnd = trialEnd
	}

	event := &SubscriptionCreatedEvent{
		SubscriptionID: id,
		BusinessID:     businessID,
		PlanID:         plan.ID,
		Price:          plan.Price,
		Status:         state.Status,
		CreatedAt:      now,
	}

	return &Subscription{state: state}, event, nil
}

// ReconstructFromPersistence recreates a subscription from database
func ReconstructFromPersistence(state SubscriptionState) *Subscription {
	return &Subscription{state: state}
}

// CanChangePlan reports whether the subscription accepts a plan change.
func (s *Subscription) CanChangePlan() error {
	switch {
	case s.state.Status == StatusCancelled:
		return ErrSubscriptionNotChangeable
	case s.state.CancelAtPeriodEnd:
		return ErrScheduledForCancellation
	}
	return nil
}

// ApplyUpgrade switches to newPlanID immediately. The billing period is kept,
// so the next billing date does not move. Any deferred change is dropped.
func (s *Subscription) ApplyUpgrade(newPlanID string, now time.Time) (*PlanChangedEvent, error) {
	if err := s.CanChangePlan(); err != nil {
		return nil, err
	}
	if newPlanID == "" {
		return nil, ErrInvalidPlanID
	}
	if newPlanID == s.state.PlanID {
		return nil, ErrSamePlan
	}

	previous := s.state.PlanID
	s.state.PlanID = newPlanID
	s.state.PendingPlanID = ""
	s.state.PendingEffectiveAt = nil
	if s.state.Status == StatusPastDue {
		s.state.Status = StatusActive
	}
	s.touch(now)

	return &PlanChangedEvent{
		SubscriptionID: s.state.ID,
		BusinessID:     s.state.BusinessID,
		FromPlanID:     previous,
		ToPlanID:       newPlanID,
		ChangedAt:      now,
	}, nil
}

// ScheduleChange defers a switch to newPlanID until the current period ends.
func (s *Subscription) ScheduleChange(newPlanID string, changeType ChangeType, now time.Time) (*PlanChangeScheduledEvent, error) {
	if err := s.CanChangePlan(); err != nil {
		return nil, err
	}
	if newPlanID == "" {
		return nil, ErrInvalidPlanID
	}
	if newPlanID == s.state.PlanID {
		return nil, ErrSamePlan
	}

	effective := s.state.PeriodEnd
	s.state.PendingPlanID = newPlanID
	s.state.PendingEffectiveAt = &effective
	s.touch(now)

	return &PlanChangeScheduledEvent{
		SubscriptionID: s.state.ID,
		BusinessID:     s.state.BusinessID,
		FromPlanID:     s.state.PlanID,
		ToPlanID:       newPlanID,
		ChangeType:     changeType,
		EffectiveAt:    effective,
		ScheduledAt:    now,
	}, nil
}

// CancelAtPeriodEnd flags the subscription to end at the current period
// boundary and drops any deferred plan change. No refund is issued.
func (s *Subscription) CancelAtPeriodEnd(now time.Time) (*SubscriptionCancelledEvent, error) {
	if s.state.Status == StatusCancelled || s.state.CancelAtPeriodEnd {
		return nil, ErrAlreadyCancelled
	}

	s.state.CancelAtPeriodEnd = true
	s.state.PendingPlanID = ""
	s.state.PendingEffectiveAt = nil
	s.touch(now)

	return &SubscriptionCancelledEvent{
		SubscriptionID: s.state.ID,
		BusinessID:     s.state.BusinessID,
		EffectiveAt:    s.state.PeriodEnd,
		CancelledAt:    now,
	}, nil
}

// Renew closes the current period. A subscription flagged for cancellation
// ends; otherwise any deferred plan change takes effect and a new period of
// the effective plan's interval opens.
func (s *Subscription) Renew(effectivePlan Plan, now time.Time) (*SubscriptionRenewedEvent, error) {
	if s.state.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if now.Before(s.state.PeriodEnd) {
		return nil, ErrPeriodNotEnded
	}

	event := &SubscriptionRenewedEvent{
		SubscriptionID: s.state.ID,
		BusinessID:     s.state.BusinessID,
		FromPlanID:     s.state.PlanID,
		RenewedAt:      now,
	}

	if s.state.CancelAtPeriodEnd {
		s.state.Status = StatusCancelled
		s.touch(now)
		event.ToPlanID = s.state.PlanID
		event.Cancelled = true
		return event, nil
	}

	if s.state.PendingPlanID != "" {
		s.state.PlanID = s.state.PendingPlanID
		s.state.PendingPlanID = ""
		s.state.PendingEffectiveAt = nil
	}
	if s.state.Status == StatusTrial {
		s.state.Status = StatusActive
	}

	s.state.PeriodStart = s.state.PeriodEnd
	s.state.PeriodEnd = effectivePlan.Interval.Next(s.state.PeriodStart)
	s.touch(now)

	event.ToPlanID = s.state.PlanID
	event.PeriodStart = s.state.PeriodStart
	event.PeriodEnd = s.state.PeriodEnd
	return event, nil
}

func (s *Subscription) touch(now time.Time) {
	s.state.Version++
	s.state.UpdatedAt = now
}

// Snapshot returns a copy of the current state.
func (s *Subscription) Snapshot() SubscriptionState {
	return s.state
}

// Getters (no setters!)
func (s *Subscription) ID() string {
	return s.state.ID
}

func (s *Subscription) BusinessID() string {
	return s.state.BusinessID
}

func (s *Subscription) PlanID() string {
	return s.state.PlanID
}

func (s *Subscription) Status() SubscriptionStatus {
	return s.state.Status
}

func (s *Subscription) PeriodStart() time.Time {
	return s.state.PeriodStart
}

func (s *Subscription) PeriodEnd() time.Time {
	return s.state.PeriodEnd
}

func (s *Subscription) CancelAtPeriodEndFlag() bool {
	return s.state.CancelAtPeriodEnd
}

func (s *Subscription) PendingPlanID() string {
	return s.state.PendingPlanID
}

func (s *Subscription) Version() int64 {
	return s.state.Version
}
