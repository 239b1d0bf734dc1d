package domain

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

// ChangeRequest describes one confirmed plan change. It is consumed exactly
// once by execution and never persisted.
type ChangeRequest struct {
	BusinessID      string `json:"business_id" validate:"required"`
	SubscriptionID  string `json:"subscription_id" validate:"required"`
	TargetPlanID    string `json:"plan_id" validate:"required"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	DiscountCode    string `json:"discount_code,omitempty"`
	// ExpectedVersion is the subscription version the caller previewed against.
	// Zero skips the staleness check.
	ExpectedVersion int64 `json:"expected_version,omitempty" validate:"gte=0"`
	// IdempotencyKey is the caller's request nonce.
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=255"`
}

// ChangeOutcome is the terminal state of an execution
type ChangeOutcome string

const (
	OutcomeSucceeded ChangeOutcome = "succeeded"
	OutcomeFailed    ChangeOutcome = "failed"
)

// PaymentConfirmation records a successful gateway charge
type PaymentConfirmation struct {
	TransactionID   string          `json:"transaction_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ChargedAt       time.Time       `json:"charged_at"`
}

// ChangeFailure describes why an execution did not succeed. Kind uses the
// error taxonomy codes.
type ChangeFailure struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ChangeResult is the terminal outcome of an ExecutePlanChange call
type ChangeResult struct {
	IdempotencyKey string               `json:"idempotency_key"`
	BusinessID     string               `json:"business_id"`
	SubscriptionID string               `json:"subscription_id"`
	TargetPlanID   string               `json:"target_plan_id"`
	ChangeType     ChangeType           `json:"change_type"`
	Outcome        ChangeOutcome        `json:"outcome"`
	EffectiveDate  EffectiveDate        `json:"effective_date"`
	Subscription   *SubscriptionState   `json:"subscription,omitempty"`
	Payment        *PaymentConfirmation `json:"payment,omitempty"`
	Discount       *DiscountResult      `json:"discount,omitempty"`
	Failure        *ChangeFailure       `json:"failure,omitempty"`
	CompletedAt    time.Time            `json:"completed_at"`
}

func (r *ChangeResult) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSucceeded
}

// Reconciliation tracks a charge whose subscription commit was lost.
type Reconciliation struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	BusinessID      string          `json:"business_id"`
	SubscriptionID  string          `json:"subscription_id"`
	TargetPlanID    string          `json:"target_plan_id"`
	ChangeType      ChangeType      `json:"change_type"`
	ExpectedVersion int64           `json:"expected_version"`
	TransactionID   string          `json:"transaction_id"`
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Error           string          `json:"error"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

func (r *Reconciliation) Resolved() bool {
	return r.ResolvedAt != nil
}

// Err is the fatal error reported for r's idempotency key until r is resolved.
func (r *Reconciliation) Err() error {
	return ierr.NewErrorf("charge %s was taken but the plan change was not committed", r.TransactionID).
		WithHint("Payment was received but the plan change needs reconciliation. Do not pay again").
		WithReportableDetails(map[string]any{
			"transaction_id":  r.TransactionID,
			"subscription_id": r.SubscriptionID,
			"idempotency_key": r.IdempotencyKey,
		}).
		Mark(ierr.ErrReconciliationRequired)
}
