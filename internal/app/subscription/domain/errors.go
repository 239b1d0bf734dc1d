package domain

import (
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

var (
	ErrSubscriptionNotFound = ierr.NewError("subscription not found").
				WithHint("The subscription does not exist").
				Mark(ierr.ErrNotFound)
	ErrPlanNotFound = ierr.NewError("plan not found").
			WithHint("The requested plan does not exist").
			Mark(ierr.ErrNotFound)
	ErrPaymentMethodNotFound = ierr.NewError("payment method not found").
					WithHint("The payment method does not exist for this business").
					Mark(ierr.ErrNotFound)
	ErrResultNotFound = ierr.NewError("change result not found").
				Mark(ierr.ErrNotFound)
	ErrReconciliationNotFound = ierr.NewError("reconciliation record not found").
					Mark(ierr.ErrNotFound)

	ErrBusinessMismatch = ierr.NewError("subscription belongs to another business").
				WithHint("The subscription does not exist").
				Mark(ierr.ErrNotFound)
	ErrAlreadyCancelled = ierr.NewError("subscription already cancelled").
				WithHint("The subscription is already cancelled or scheduled for cancellation").
				Mark(ierr.ErrInvalidOperation)
	ErrActiveSubscriptionExists = ierr.NewError("business already has an active subscription").
					WithHint("Change the existing subscription's plan instead").
					Mark(ierr.ErrConflict)
	ErrSubscriptionNotChangeable = ierr.NewError("subscription cannot change plans").
					WithHint("Cancelled subscriptions cannot change plans").
					Mark(ierr.ErrBusinessRule)
	ErrScheduledForCancellation = ierr.NewError("subscription is scheduled for cancellation").
					WithHint("Resume the subscription before changing plans").
					Mark(ierr.ErrBusinessRule)
	ErrPeriodNotEnded = ierr.NewError("billing period has not ended").
				Mark(ierr.ErrInvalidOperation)

	ErrInvalidPrice          = ierr.NewFieldError("price", "must not be negative")
	ErrInvalidPlanID         = ierr.NewFieldError("plan_id", "cannot be empty")
	ErrInvalidBusinessID     = ierr.NewFieldError("business_id", "cannot be empty")
	ErrInvalidPeriod         = ierr.NewFieldError("period", "period end must be after period start")
	ErrSamePlan              = ierr.NewFieldError("plan_id", "subscription is already on this plan")
	ErrCurrencyMismatch      = ierr.NewFieldError("plan_id", "target plan is billed in a different currency")
	ErrInvalidDiscount       = ierr.NewFieldError("discount_code", "discount code is not valid for this plan")
	ErrPaymentMethodRequired = ierr.NewFieldError("payment_method_id", "a payment method is required for this change")
	ErrPaymentMethodExpired  = ierr.NewFieldError("payment_method_id", "payment method has expired")
	ErrMissingRequestNonce   = ierr.NewFieldError("idempotency_key", "cannot be empty")

	ErrPlanLimitsExceeded = ierr.NewError("current usage exceeds the target plan's limits").
				WithHint("Reduce usage or choose another plan").
				Mark(ierr.ErrBusinessRule)
	ErrStalePreview = ierr.NewError("subscription changed since the preview was computed").
			WithHint("Please retry: the preview is out of date").
			Mark(ierr.ErrConflict)
	ErrConcurrentModification = ierr.NewError("subscription was modified concurrently").
					WithHint("The subscription changed, please retry").
					Mark(ierr.ErrConflict)
	ErrResultExists = ierr.NewError("a result is already recorded for this idempotency key").
			Mark(ierr.ErrConflict)
	ErrExecutionInProgress = ierr.NewError("a plan change is already executing for this subscription").
				WithHint("A plan change is already in progress").
				Mark(ierr.ErrConflict)
)
