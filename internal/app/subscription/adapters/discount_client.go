package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

var _ contracts.DiscountValidator = (*HTTPDiscountClient)(nil)

// HTTPDiscountClient validates discount codes against the discount service
type HTTPDiscountClient struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewHTTPDiscountClient creates a discount client that retries transient
// failures up to retryMax times.
func NewHTTPDiscountClient(baseURL string, timeout time.Duration, retryMax int, log *logger.Logger) *HTTPDiscountClient {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = leveledLogger{log}

	return &HTTPDiscountClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type validateDiscountPayload struct {
	Code   string          `json:"code"`
	PlanID string          `json:"plan_id"`
	Amount decimal.Decimal `json:"amount"`
}

type validateDiscountResponse struct {
	IsValid        bool            `json:"is_valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	Message        string          `json:"message"`
}

// Validate asks the discount service whether code applies to planID at amount.
// An unknown or rejected code comes back as an invalid result, not an error.
func (c *HTTPDiscountClient) Validate(ctx context.Context, code, planID string, amount decimal.Decimal) (*domain.DiscountResult, error) {
	payload := validateDiscountPayload{Code: code, PlanID: planID, Amount: amount}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("failed to marshal payload").Mark(ierr.ErrSystem)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/discounts/validate", body)
	if err != nil {
		return nil, ierr.WithError(err).WithMessage("failed to create request").Mark(ierr.ErrSystem)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("The discount service is unavailable, please retry").
			Mark(ierr.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		var out validateDiscountResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return &domain.DiscountResult{
			Code:        code,
			IsValid:     false,
			FinalAmount: amount,
			Message:     firstNonEmpty(out.Message, "discount code is not valid"),
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, ierr.NewErrorf("discount service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))).
			WithHint("The discount service is unavailable, please retry").
			Mark(ierr.ErrTransient)
	}

	var out validateDiscountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ierr.WithError(err).
			WithMessage("failed to decode discount response").
			Mark(ierr.ErrTransient)
	}

	result := &domain.DiscountResult{
		Code:           code,
		IsValid:        out.IsValid,
		DiscountAmount: out.DiscountAmount,
		FinalAmount:    out.FinalAmount,
		Message:        out.Message,
	}
	if !result.IsValid {
		result.DiscountAmount = decimal.Zero
		result.FinalAmount = amount
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// leveledLogger adapts the service logger to retryablehttp's logging interface
type leveledLogger struct {
	log *logger.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
