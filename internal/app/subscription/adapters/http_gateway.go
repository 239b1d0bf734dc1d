package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

var _ contracts.PaymentGateway = (*HTTPGateway)(nil)

// HTTPGateway implements the payment gateway against a JSON billing API
type HTTPGateway struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPGateway creates a new HTTP payment gateway
func NewHTTPGateway(client *http.Client, baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type chargePayload struct {
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type tokenizePayload struct {
	BusinessID string `json:"business_id"`
	HolderName string `json:"holder_name"`
	Number     string `json:"number"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	CVC        string `json:"cvc"`
}

type tokenizeResponse struct {
	Token string `json:"token"`
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Charge submits a charge. The idempotency key travels as a header so the
// provider deduplicates retried submissions.
func (g *HTTPGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	payload := chargePayload{
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.GatewayToken,
		Description:   req.Description,
		Metadata:      req.Metadata,
	}

	var resp chargeResponse
	if err := g.do(ctx, http.MethodPost, "/charges", req.IdempotencyKey, payload, &resp); err != nil {
		return nil, err
	}
	return resp.toCharge(), nil
}

// ChargeStatus looks up the charge submitted under req.IdempotencyKey.
func (g *HTTPGateway) ChargeStatus(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	var resp chargeResponse
	err := g.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(req.IdempotencyKey), "", nil, &resp)
	if err != nil {
		if ierr.IsNotFound(err) {
			return &domain.Charge{Status: domain.ChargeNotFound}, nil
		}
		return nil, err
	}
	return resp.toCharge(), nil
}

// Tokenize exchanges raw card data for a provider token.
func (g *HTTPGateway) Tokenize(ctx context.Context, businessID string, card domain.CardData) (*domain.CardToken, error) {
	payload := tokenizePayload{
		BusinessID: businessID,
		HolderName: card.HolderName,
		Number:     card.Number,
		ExpMonth:   card.ExpMonth,
		ExpYear:    card.ExpYear,
		CVC:        card.CVC,
	}

	var resp tokenizeResponse
	if err := g.do(ctx, http.MethodPost, "/payment-methods", "", payload, &resp); err != nil {
		return nil, err
	}
	return &domain.CardToken{
		Token: resp.Token,
		Brand: domain.CardBrand(resp.Brand),
		Last4: resp.Last4,
	}, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return ierr.WithError(err).WithMessage("failed to marshal payload").Mark(ierr.ErrSystem)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to create request").Mark(ierr.ErrSystem)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return ierr.NewError("charge not found").Mark(ierr.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewGatewayError(domain.GatewayUnknown, "", fmt.Sprintf("failed to decode response: %v", err))
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if ctx.Err() == context.DeadlineExceeded || (ierr.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewGatewayError(domain.GatewayTimeout, "", err.Error())
	}
	return domain.NewGatewayError(domain.GatewayProviderUnavailable, "", err.Error())
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed errorResponse
	_ = json.Unmarshal(raw, &parsed)
	code, message := parsed.Error.Code, parsed.Error.Message
	if message == "" {
		message = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return domain.NewGatewayError(classifyHTTPFailure(resp.StatusCode, code), code, message)
}

func classifyHTTPFailure(status int, code string) domain.GatewayErrorKind {
	switch code {
	case "card_declined", "do_not_honor", "stolen_card", "lost_card":
		return domain.GatewayCardDeclined
	case "insufficient_funds":
		return domain.GatewayInsufficientFunds
	case "invalid_instrument", "expired_card", "incorrect_number", "invalid_cvc":
		return domain.GatewayInvalidInstrument
	}

	switch {
	case status == http.StatusPaymentRequired:
		return domain.GatewayCardDeclined
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return domain.GatewayInvalidInstrument
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return domain.GatewayTimeout
	case status == http.StatusTooManyRequests, status >= 500:
		return domain.GatewayProviderUnavailable
	}
	return domain.GatewayUnknown
}

func (r chargeResponse) toCharge() *domain.Charge {
	status := domain.ChargeStatus(r.Status)
	switch status {
	case domain.ChargeSucceeded, domain.ChargePending, domain.ChargeFailed:
	default:
		status = domain.ChargePending
	}
	return &domain.Charge{
		TransactionID: r.ID,
		Status:        status,
		Amount:        r.Amount,
		Currency:      r.Currency,
	}
}
