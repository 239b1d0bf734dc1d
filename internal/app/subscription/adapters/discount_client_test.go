package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

func TestHTTPDiscountClient_Valid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/discounts/validate", r.URL.Path)
		var body validateDiscountPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SAVE10", body.Code)
		assert.Equal(t, "pro", body.PlanID)
		assert.True(t, body.Amount.Equal(decimal.NewFromInt(750)))

		_, _ = w.Write([]byte(`{"is_valid":true,"discount_amount":"75","final_amount":"675"}`))
	}))
	defer srv.Close()

	client := NewHTTPDiscountClient(srv.URL, time.Second, 0, logger.NewNop())
	result, err := client.Validate(context.Background(), "SAVE10", "pro", decimal.NewFromInt(750))

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "SAVE10", result.Code)
	assert.True(t, result.FinalAmount.Equal(decimal.NewFromInt(675)))
	assert.True(t, result.DiscountAmount.Equal(decimal.NewFromInt(75)))
}

func TestHTTPDiscountClient_UnknownCodeIsInvalidResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"code expired"}`))
	}))
	defer srv.Close()

	client := NewHTTPDiscountClient(srv.URL, time.Second, 0, logger.NewNop())
	result, err := client.Validate(context.Background(), "OLD", "pro", decimal.NewFromInt(750))

	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "code expired", result.Message)
	assert.True(t, result.FinalAmount.Equal(decimal.NewFromInt(750)))
}

func TestHTTPDiscountClient_RetriesThenTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPDiscountClient(srv.URL, time.Second, 1, logger.NewNop())
	_, err := client.Validate(context.Background(), "SAVE10", "pro", decimal.NewFromInt(750))

	require.Error(t, err)
	assert.True(t, ierr.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}
