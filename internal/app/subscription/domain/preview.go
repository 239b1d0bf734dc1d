package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeType classifies a plan change by price direction
type ChangeType string

const (
	ChangeTypeUpgrade   ChangeType = "upgrade"
	ChangeTypeDowngrade ChangeType = "downgrade"
	ChangeTypeLateral   ChangeType = "lateral"
)

// EffectiveDate is either "immediate" or a concrete future instant.
type EffectiveDate struct {
	Immediate bool      `json:"immediate"`
	At        time.Time `json:"at"`
}

// Immediately returns an effective date resolved at now.
func Immediately(now time.Time) EffectiveDate {
	return EffectiveDate{Immediate: true, At: now}
}

// DeferredTo returns an effective date at t.
func DeferredTo(t time.Time) EffectiveDate {
	return EffectiveDate{At: t}
}

// Limitation is a usage figure that exceeds the target plan's cap
type Limitation struct {
	Resource Resource `json:"resource"`
	Current  int64    `json:"current"`
	Limit    int64    `json:"limit"`
}

// ChangePreview is a derived, non-authoritative projection of a plan change.
// It is recomputed on demand and never persisted.
type ChangePreview struct {
	BusinessID          string          `json:"business_id"`
	SubscriptionID      string          `json:"subscription_id"`
	SubscriptionVersion int64           `json:"subscription_version"`
	ChangeType          ChangeType      `json:"change_type"`
	CurrentPlan         Plan            `json:"current_plan"`
	NewPlan             Plan            `json:"new_plan"`
	ProrationAmount     decimal.Decimal `json:"proration_amount"`
	TotalDueToday       decimal.Decimal `json:"total_due_today"`
	Currency            string          `json:"currency"`
	EffectiveDate       EffectiveDate   `json:"effective_date"`
	NextBillingDate     time.Time       `json:"next_billing_date"`
	PeriodStart         time.Time       `json:"period_start"`
	PeriodEnd           time.Time       `json:"period_end"`
	PaymentRequired     bool            `json:"payment_required"`
	CanProceed          bool            `json:"can_proceed"`
	Limitations         []Limitation    `json:"limitations"`
	EntitlementsReduced bool            `json:"entitlements_reduced"`
	RemovedFeatures     []string        `json:"removed_features,omitempty"`
	Discount            *DiscountResult `json:"discount,omitempty"`
	ComputedAt          time.Time       `json:"computed_at"`
}

// AmountToCharge is what the gateway is asked for when the change executes.
func (p ChangePreview) AmountToCharge() decimal.Decimal {
	if p.ChangeType != ChangeTypeUpgrade {
		return decimal.Zero
	}
	return p.TotalDueToday
}
