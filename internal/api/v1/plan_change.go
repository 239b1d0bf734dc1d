package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/preview_change"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

// HeaderIdempotencyKey carries the caller's nonce for a plan change.
const HeaderIdempotencyKey = "Idempotency-Key"

type PreviewService interface {
	Execute(ctx context.Context, req preview_change.Request) (*domain.ChangePreview, error)
}

type ExecuteService interface {
	Execute(ctx context.Context, req domain.ChangeRequest) (*domain.ChangeResult, error)
}

// PlanChangeHandler serves plan change previews and executions
type PlanChangeHandler struct {
	preview PreviewService
	execute ExecuteService
	log     *logger.Logger
}

func NewPlanChangeHandler(preview PreviewService, execute ExecuteService, log *logger.Logger) *PlanChangeHandler {
	return &PlanChangeHandler{
		preview: preview,
		execute: execute,
		log:     log,
	}
}

// executeRequest is the plan change body; path and header supply the rest.
type executeRequest struct {
	PlanID          string `json:"plan_id"`
	PaymentMethodID string `json:"payment_method_id"`
	DiscountCode    string `json:"discount_code"`
	ExpectedVersion int64  `json:"expected_version"`
}

// Preview handles GET .../subscriptions/:subscription_id/preview
func (h *PlanChangeHandler) Preview(c *gin.Context) {
	preview, err := h.preview.Execute(c.Request.Context(), preview_change.Request{
		BusinessID:     c.Param("business_id"),
		SubscriptionID: c.Param("subscription_id"),
		PlanID:         c.Query("plan_id"),
		DiscountCode:   c.Query("discount_code"),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// Execute handles POST .../subscriptions/:subscription_id/plan-change
//
// The Idempotency-Key header also keys the gateway charge, so a payment
// failure is retried under a new key. Reusing the key with another payment
// method would be refused by the provider as a mismatched replay.
func (h *PlanChangeHandler) Execute(c *gin.Context) {
	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		c.Error(ierr.WithError(ierr.NewFieldError("idempotency_key", "cannot be empty")).
			WithHintf("The %s header is required", HeaderIdempotencyKey).
			Mark(ierr.ErrValidation))
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	log := h.log.With(
		"business_id", c.Param("business_id"),
		"subscription_id", c.Param("subscription_id"),
		"target_plan_id", req.PlanID,
		"operation", "execute_plan_change",
	)

	result, err := h.execute.Execute(c.Request.Context(), domain.ChangeRequest{
		BusinessID:      c.Param("business_id"),
		SubscriptionID:  c.Param("subscription_id"),
		TargetPlanID:    req.PlanID,
		PaymentMethodID: req.PaymentMethodID,
		DiscountCode:    req.DiscountCode,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  key,
	})
	if err != nil {
		log.Infow("plan change rejected", "kind", ierr.KindOf(err))
		if ierr.IsPaymentFailed(err) {
			err = ierr.WithError(err).
				WithReportableDetails(map[string]any{
					"retry": "choose another payment method and send a new " + HeaderIdempotencyKey,
				}).
				Mark(ierr.ErrPaymentFailed)
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
