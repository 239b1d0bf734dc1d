package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionCreatedEvent is emitted when a subscription is created
type SubscriptionCreatedEvent struct {
	SubscriptionID string
	BusinessID     string
	PlanID         string
	Price          decimal.Decimal
	Status         SubscriptionStatus
	CreatedAt      time.Time
}

// SubscriptionCancelledEvent is emitted when a subscription is flagged to end
type SubscriptionCancelledEvent struct {
	SubscriptionID string
	BusinessID     string
	EffectiveAt    time.Time
	CancelledAt    time.Time
}

// PlanChangedEvent is emitted when an upgrade takes effect immediately
type PlanChangedEvent struct {
	SubscriptionID string
	BusinessID     string
	FromPlanID     string
	ToPlanID       string
	ChangedAt      time.Time
}

// PlanChangeScheduledEvent is emitted when a change is deferred to period end
type PlanChangeScheduledEvent struct {
	SubscriptionID string
	BusinessID     string
	FromPlanID     string
	ToPlanID       string
	ChangeType     ChangeType
	EffectiveAt    time.Time
	ScheduledAt    time.Time
}

// SubscriptionRenewedEvent is emitted when a billing period rolls over
type SubscriptionRenewedEvent struct {
	SubscriptionID string
	BusinessID     string
	FromPlanID     string
	ToPlanID       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Cancelled      bool
	RenewedAt      time.Time
}
