// Package paymentmethod lists, validates and stores tokenized payment
// instruments for a business.
package paymentmethod

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

// Registry is the Payment Method Registry
type Registry struct {
	repo        contracts.PaymentMethodRepository
	gateway     contracts.PaymentGateway
	clock       domain.Clock
	logger      *logger.Logger
	listTimeout time.Duration
}

// NewRegistry creates a registry. A zero listTimeout disables the list deadline.
func NewRegistry(repo contracts.PaymentMethodRepository, gateway contracts.PaymentGateway, clock domain.Clock, log *logger.Logger, listTimeout time.Duration) *Registry {
	return &Registry{
		repo:        repo,
		gateway:     gateway,
		clock:       clock,
		logger:      log,
		listTimeout: listTimeout,
	}
}

// ListMethods returns the business's stored instruments. A listing that
// exceeds the deadline surfaces as a transient error.
func (r *Registry) ListMethods(ctx context.Context, businessID string) ([]domain.PaymentMethod, error) {
	if businessID == "" {
		return nil, domain.ErrInvalidBusinessID
	}
	if r.listTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.listTimeout)
		defer cancel()
	}

	methods, err := r.repo.ListByBusiness(ctx, businessID)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ierr.WithError(err).
				WithHint("Listing payment methods timed out, please retry").
				Mark(ierr.ErrTransient)
		}
		return nil, err
	}
	return methods, nil
}

// AddMethod validates card, tokenizes it with the gateway and stores the
// reference. The first method of a business always becomes its default.
func (r *Registry) AddMethod(ctx context.Context, businessID string, card domain.CardData) (*domain.PaymentMethod, error) {
	if businessID == "" {
		return nil, domain.ErrInvalidBusinessID
	}

	now := r.clock.Now()
	number, err := ValidateCard(card, now)
	if err != nil {
		return nil, err
	}
	card.Number = number

	existing, err := r.repo.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	token, err := r.gateway.Tokenize(ctx, businessID, card)
	if err != nil {
		r.logger.Warnw("payment method tokenization failed",
			"business_id", businessID,
			"error", err,
		)
		return nil, err
	}

	method := domain.PaymentMethod{
		ID:           uuid.New().String(),
		BusinessID:   businessID,
		Brand:        lo.Ternary(token.Brand != "", token.Brand, DetectBrand(number)),
		Last4:        lo.Ternary(token.Last4 != "", token.Last4, number[len(number)-4:]),
		HolderName:   card.HolderName,
		ExpMonth:     card.ExpMonth,
		ExpYear:      card.ExpYear,
		IsDefault:    card.MakeDefault || len(existing) == 0,
		GatewayToken: token.Token,
		CreatedAt:    now,
	}

	if err := r.repo.Add(ctx, method); err != nil {
		return nil, err
	}

	r.logger.Infow("payment method added",
		"business_id", businessID,
		"payment_method_id", method.ID,
		"brand", method.Brand,
		"last4", method.Last4,
		"is_default", method.IsDefault,
	)
	return &method, nil
}

// Resolve loads a method for charging: it must belong to the business and
// must not have expired.
func (r *Registry) Resolve(ctx context.Context, businessID, paymentMethodID string) (*domain.PaymentMethod, error) {
	if paymentMethodID == "" {
		return nil, domain.ErrPaymentMethodRequired
	}
	method, err := r.repo.FindByID(ctx, businessID, paymentMethodID)
	if err != nil {
		return nil, err
	}
	if method.Expired(r.clock.Now()) {
		return nil, domain.ErrPaymentMethodExpired
	}
	return method, nil
}

// SelectDefault picks the method flagged as default, else the first one.
func SelectDefault(methods []domain.PaymentMethod) (domain.PaymentMethod, bool) {
	if m, ok := lo.Find(methods, func(m domain.PaymentMethod) bool { return m.IsDefault }); ok {
		return m, true
	}
	return lo.First(methods)
}
