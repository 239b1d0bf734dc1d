package validate_discount

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/validator"
)

// Request contains the input for validating a discount code
type Request struct {
	Code   string          `json:"code" validate:"required,max=64"`
	PlanID string          `json:"plan_id" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// Interactor handles discount validation and applies validated codes to a
// preview's total
type Interactor struct {
	validator contracts.DiscountValidator
	logger    *logger.Logger
}

// NewInteractor creates a new validate discount interactor. A nil validator
// rejects every code.
func NewInteractor(v contracts.DiscountValidator, log *logger.Logger) *Interactor {
	return &Interactor{
		validator: v,
		logger:    log,
	}
}

// Execute validates req.Code against the plan and amount. An unknown code is
// a result with IsValid=false; only infrastructure failures are errors.
func (i *Interactor) Execute(ctx context.Context, req Request) (*domain.DiscountResult, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, ierr.NewFieldError("amount", "must not be negative")
	}

	amount := req.Amount.Round(2)
	if i.validator == nil {
		return invalid(req.Code, amount, "discount codes are not accepted"), nil
	}

	result, err := i.validator.Validate(ctx, req.Code, req.PlanID, amount)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		return invalid(req.Code, amount, result.Message), nil
	}

	// The final amount is clamped so a discount can never raise the total or
	// push it below zero.
	final := decimal.Min(decimal.Max(result.FinalAmount.Round(2), decimal.Zero), amount)
	return &domain.DiscountResult{
		Code:           req.Code,
		IsValid:        true,
		DiscountAmount: amount.Sub(final),
		FinalAmount:    final,
		Message:        result.Message,
	}, nil
}

// Apply validates code against preview and, when valid, replaces the total
// due today with the discounted amount. An invalid code leaves the total
// untouched, is recorded on preview.Discount and returns a field error.
func (i *Interactor) Apply(ctx context.Context, preview *domain.ChangePreview, code string) error {
	if code == "" {
		preview.Discount = nil
		return nil
	}

	result, err := i.Execute(ctx, Request{
		Code:   code,
		PlanID: preview.NewPlan.ID,
		Amount: preview.TotalDueToday,
	})
	if err != nil {
		if msg := ierr.Fields(err)["code"]; msg != "" {
			return ierr.NewFieldError("discount_code", msg)
		}
		return err
	}

	preview.Discount = result
	if !result.IsValid {
		i.logger.Infow("discount code rejected",
			"code", code,
			"plan_id", preview.NewPlan.ID,
			"reason", result.Message,
		)
		if result.Message != "" {
			return ierr.NewFieldError("discount_code", result.Message)
		}
		return domain.ErrInvalidDiscount
	}

	preview.TotalDueToday = result.FinalAmount
	return nil
}

func invalid(code string, amount decimal.Decimal, message string) *domain.DiscountResult {
	return &domain.DiscountResult{
		Code:           code,
		IsValid:        false,
		DiscountAmount: decimal.Zero,
		FinalAmount:    amount,
		Message:        message,
	}
}
