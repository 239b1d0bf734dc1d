package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

type PaymentMethodService interface {
	ListMethods(ctx context.Context, businessID string) ([]domain.PaymentMethod, error)
	AddMethod(ctx context.Context, businessID string, card domain.CardData) (*domain.PaymentMethod, error)
}

type PaymentMethodHandler struct {
	methods PaymentMethodService
}

func NewPaymentMethodHandler(methods PaymentMethodService) *PaymentMethodHandler {
	return &PaymentMethodHandler{methods: methods}
}

type listPaymentMethodsResponse struct {
	Items []domain.PaymentMethod `json:"items"`
}

func (h *PaymentMethodHandler) List(c *gin.Context) {
	methods, err := h.methods.ListMethods(c.Request.Context(), c.Param("business_id"))
	if err != nil {
		c.Error(err)
		return
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}

	c.JSON(http.StatusOK, listPaymentMethodsResponse{Items: methods})
}

// Add tokenizes and stores a card. The raw card data never leaves this
// request.
func (h *PaymentMethodHandler) Add(c *gin.Context) {
	var card domain.CardData
	if err := c.ShouldBindJSON(&card); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	method, err := h.methods.AddMethod(c.Request.Context(), c.Param("business_id"), card)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, method)
}
