package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

type DiscountService interface {
	Execute(ctx context.Context, req validate_discount.Request) (*domain.DiscountResult, error)
}

type DiscountHandler struct {
	discounts DiscountService
}

func NewDiscountHandler(discounts DiscountService) *DiscountHandler {
	return &DiscountHandler{discounts: discounts}
}

// Validate checks a code against a plan and amount. An invalid code is a
// successful response with is_valid false.
func (h *DiscountHandler) Validate(c *gin.Context) {
	var req validate_discount.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.discounts.Execute(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
