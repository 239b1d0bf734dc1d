package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

// GatewayErrorKind is the normalized failure taxonomy of the payment processor
type GatewayErrorKind string

const (
	GatewayCardDeclined        GatewayErrorKind = "card_declined"
	GatewayInsufficientFunds   GatewayErrorKind = "insufficient_funds"
	GatewayInvalidInstrument   GatewayErrorKind = "invalid_instrument"
	GatewayTimeout             GatewayErrorKind = "timeout"
	GatewayProviderUnavailable GatewayErrorKind = "provider_unavailable"
	GatewayUnknown             GatewayErrorKind = "unknown"
)

// GatewayError is a provider failure after normalization
type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string // provider-specific code, for logs
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("gateway %s (%s): %s", e.Kind, e.Code, e.Message)
}

// Retryable reports whether the orchestrator may retry automatically.
func (e *GatewayError) Retryable() bool {
	return e.Kind == GatewayTimeout || e.Kind == GatewayProviderUnavailable
}

// Ambiguous reports whether the charge may have gone through despite the error.
func (e *GatewayError) Ambiguous() bool {
	return e.Kind == GatewayTimeout || e.Kind == GatewayUnknown
}

// NewGatewayError builds a normalized gateway error marked with its taxonomy kind.
func NewGatewayError(kind GatewayErrorKind, code, message string) error {
	ge := &GatewayError{Kind: kind, Code: code, Message: message}

	var mark error
	var hint string
	switch kind {
	case GatewayTimeout, GatewayProviderUnavailable:
		mark, hint = ierr.ErrTransient, "The payment provider is temporarily unavailable"
	case GatewayCardDeclined:
		mark, hint = ierr.ErrPaymentFailed, "The card was declined. Choose a different payment method"
	case GatewayInsufficientFunds:
		mark, hint = ierr.ErrPaymentFailed, "Insufficient funds. Choose a different payment method"
	case GatewayInvalidInstrument:
		mark, hint = ierr.ErrPaymentFailed, "The payment method is invalid. Choose a different payment method"
	default:
		mark, hint = ierr.ErrPaymentFailed, "The payment could not be processed"
	}

	return ierr.WithError(ge).
		WithHint(hint).
		WithReportableDetails(map[string]any{
			"gateway_error": string(kind),
		}).
		Mark(mark)
}

// AsGatewayError extracts the normalized gateway error from err.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if ierr.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// ChargeStatus is the processor's view of a charge
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
	ChargeNotFound  ChargeStatus = "not_found"
)

// ChargeRequest is a validated charge ready for the gateway
type ChargeRequest struct {
	PaymentMethodID string
	GatewayToken    string
	Amount          decimal.Decimal
	Currency        string
	IdempotencyKey  string
	Description     string
	Metadata        map[string]string
}

// Charge is the gateway's answer to a charge or status request
type Charge struct {
	TransactionID string
	Status        ChargeStatus
	Amount        decimal.Decimal
	Currency      string
}

// PlanChangeCharge builds the gateway request for a plan change. Status
// checks must send the same request as the original charge.
func PlanChangeCharge(idempotencyKey, businessID, subscriptionID, targetPlanID string, method PaymentMethod, amount decimal.Decimal, currency string) ChargeRequest {
	return ChargeRequest{
		PaymentMethodID: method.ID,
		GatewayToken:    method.GatewayToken,
		Amount:          amount,
		Currency:        currency,
		IdempotencyKey:  idempotencyKey,
		Description:     fmt.Sprintf("Plan change to %s", targetPlanID),
		Metadata: map[string]string{
			"business_id":     businessID,
			"subscription_id": subscriptionID,
			"target_plan_id":  targetPlanID,
		},
	}
}
