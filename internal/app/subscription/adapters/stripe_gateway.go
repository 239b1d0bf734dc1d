package adapters

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

var _ contracts.PaymentGateway = (*StripeGateway)(nil)

var hundred = decimal.NewFromInt(100)

// StripeGateway charges stored cards through Stripe PaymentIntents
type StripeGateway struct {
	client *stripe.Client
	logger *logger.Logger
}

// NewStripeGateway creates a Stripe-backed gateway from a secret key
func NewStripeGateway(secretKey string, log *logger.Logger) *StripeGateway {
	return &StripeGateway{
		client: stripe.NewClient(secretKey, nil),
		logger: log,
	}
}

// Charge confirms an off-session PaymentIntent for the stored card.
func (g *StripeGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.GatewayToken),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"payment_method_id": req.PaymentMethodID,
			"payment_source":    "planchange",
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		g.logger.Warnw("stripe payment intent failed",
			"idempotency_key", req.IdempotencyKey,
			"payment_method_id", req.PaymentMethodID,
			"amount", req.Amount.String(),
			"error", err,
		)
		return nil, normalizeStripeError(ctx, err)
	}

	return &domain.Charge{
		TransactionID: pi.ID,
		Status:        intentStatus(pi.Status),
		Amount:        fromMinorUnits(pi.Amount),
		Currency:      strings.ToUpper(string(pi.Currency)),
	}, nil
}

// ChargeStatus replays the create call under the original idempotency key.
// Stripe answers a replay with the stored outcome of the first request, so
// a charge that already happened is reported without being repeated.
func (g *StripeGateway) ChargeStatus(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	charge, err := g.Charge(ctx, req)
	if err != nil {
		if ge, ok := domain.AsGatewayError(err); ok && !ge.Retryable() && ge.Kind != domain.GatewayUnknown {
			return &domain.Charge{Status: domain.ChargeFailed}, nil
		}
		return nil, err
	}
	return charge, nil
}

// Tokenize creates a Stripe PaymentMethod from raw card data.
func (g *StripeGateway) Tokenize(ctx context.Context, businessID string, card domain.CardData) (*domain.CardToken, error) {
	params := &stripe.PaymentMethodCreateParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCreateCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.Int64(int64(card.ExpMonth)),
			ExpYear:  stripe.Int64(int64(card.ExpYear)),
			CVC:      stripe.String(card.CVC),
		},
		BillingDetails: &stripe.PaymentMethodCreateBillingDetailsParams{
			Name: stripe.String(card.HolderName),
		},
		Metadata: map[string]string{
			"business_id": businessID,
		},
	}

	pm, err := g.client.V1PaymentMethods.Create(ctx, params)
	if err != nil {
		return nil, normalizeStripeError(ctx, err)
	}

	token := &domain.CardToken{Token: pm.ID}
	if pm.Card != nil {
		token.Brand = domain.CardBrand(pm.Card.Brand)
		token.Last4 = pm.Card.Last4
	}
	return token, nil
}

func normalizeStripeError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return domain.NewGatewayError(domain.GatewayTimeout, "", err.Error())
	}

	var se *stripe.Error
	if !ierr.As(err, &se) {
		return domain.NewGatewayError(domain.GatewayUnknown, "", err.Error())
	}
	return domain.NewGatewayError(classifyStripeError(se), string(se.Code), se.Msg)
}

func classifyStripeError(se *stripe.Error) domain.GatewayErrorKind {
	if string(se.DeclineCode) == "insufficient_funds" {
		return domain.GatewayInsufficientFunds
	}

	switch se.Code {
	case stripe.ErrorCodeCardDeclined:
		return domain.GatewayCardDeclined
	case stripe.ErrorCodeExpiredCard, stripe.ErrorCodeIncorrectNumber, stripe.ErrorCodeIncorrectCVC,
		stripe.ErrorCodeInvalidCVC, stripe.ErrorCodeInvalidNumber:
		return domain.GatewayInvalidInstrument
	}

	switch {
	case se.HTTPStatusCode == 402:
		return domain.GatewayCardDeclined
	case se.HTTPStatusCode == 400 || se.HTTPStatusCode == 404:
		return domain.GatewayInvalidInstrument
	case se.HTTPStatusCode == 429 || se.HTTPStatusCode >= 500:
		return domain.GatewayProviderUnavailable
	}
	return domain.GatewayUnknown
}

func intentStatus(s stripe.PaymentIntentStatus) domain.ChargeStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.ChargeFailed
	}
	return domain.ChargePending
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
