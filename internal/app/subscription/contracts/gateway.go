package contracts

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
)

// PaymentGateway defines the boundary to the external payment processor.
// Errors are normalized with domain.NewGatewayError.
type PaymentGateway interface {
	// Charge must honor req.IdempotencyKey: a repeated call with the same key
	// returns the original charge instead of charging again.
	Charge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error)
	// ChargeStatus reports whether the charge for req.IdempotencyKey went through.
	ChargeStatus(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error)
	// Tokenize exchanges raw card data for a provider token.
	Tokenize(ctx context.Context, businessID string, card domain.CardData) (*domain.CardToken, error)
}

// DiscountValidator validates discount codes against a plan and amount.
// An unknown or expired code is a result with IsValid=false, not an error.
type DiscountValidator interface {
	Validate(ctx context.Context, code, planID string, amount decimal.Decimal) (*domain.DiscountResult, error)
}
