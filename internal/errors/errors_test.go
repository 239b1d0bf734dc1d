package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
		status   int
	}{
		{
			name:     "validation",
			err:      NewError("bad card").Mark(ErrValidation),
			expected: ErrCodeValidation,
			status:   http.StatusBadRequest,
		},
		{
			name:     "conflict",
			err:      NewError("stale preview").Mark(ErrConflict),
			expected: ErrCodeConflict,
			status:   http.StatusConflict,
		},
		{
			name:     "payment failed",
			err:      NewError("declined").Mark(ErrPaymentFailed),
			expected: ErrCodePaymentFailed,
			status:   http.StatusPaymentRequired,
		},
		{
			name:     "reconciliation wins over payment",
			err:      WithError(NewError("declined").Mark(ErrPaymentFailed)).Mark(ErrReconciliationRequired),
			expected: ErrCodeReconciliationRequired,
			status:   http.StatusInternalServerError,
		},
		{
			name:     "unmarked",
			err:      NewError("boom").Error(),
			expected: ErrCodeSystemError,
			status:   http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
			assert.Equal(t, tc.status, HTTPStatusFromErr(tc.err))
		})
	}

	assert.Equal(t, "", KindOf(nil))
}

func TestFieldErrors(t *testing.T) {
	err := NewFieldErrors(map[string]string{
		"number": "must be 13-19 digits",
		"cvc":    "must be 3-4 digits",
	})

	assert.True(t, IsValidation(err))
	assert.Equal(t, map[string]string{
		"number": "must be 13-19 digits",
		"cvc":    "must be 3-4 digits",
	}, Fields(err))
	assert.Contains(t, err.Error(), "cvc: must be 3-4 digits; number: must be 13-19 digits")
	assert.Nil(t, Fields(NewError("plain").Mark(ErrValidation)))
}

func TestErrorResponse(t *testing.T) {
	err := NewError("charge succeeded but commit failed").
		WithHint("Plan change needs manual reconciliation").
		WithReportableDetails(map[string]any{
			"transaction_id":  "txn_1",
			"subscription_id": "sub_1",
		}).
		Mark(ErrReconciliationRequired)

	resp := NewErrorResponse(err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Plan change needs manual reconciliation", resp.Error.Display)
	assert.Equal(t, ErrCodeReconciliationRequired, resp.Error.Kind)
	assert.Equal(t, "txn_1", resp.Error.Details["transaction_id"])
	assert.Equal(t, "sub_1", resp.Error.Details["subscription_id"])
}
