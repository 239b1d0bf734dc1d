// Package changeflow drives one caller's plan change from plan selection to
// a terminal result. Each step is a distinct state type; a transition that
// the current state does not offer fails with ErrInvalidTransition.
package changeflow

import (
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

// State is a step of the flow. Only the types in this package implement it.
type State interface {
	Name() string
	state()
}

// Idle is the initial state
type Idle struct{}

// PlanSelected holds the chosen target plan until its preview loads
type PlanSelected struct {
	PlanID string
}

// PreviewReady holds a preview the change may proceed with
type PreviewReady struct {
	Preview domain.ChangePreview
}

// PreviewFailed holds a preview that could not be computed or that reports
// limitations. Preview is nil when the computation itself failed.
type PreviewFailed struct {
	PlanID  string
	Preview *domain.ChangePreview
	Err     error
}

// AwaitingPayment asks for an instrument. When Methods is empty a new method
// must be added before confirmation becomes reachable.
type AwaitingPayment struct {
	Preview domain.ChangePreview
	Methods []domain.PaymentMethod
}

// NeedsNewMethod reports whether the business has no stored instrument.
func (s AwaitingPayment) NeedsNewMethod() bool {
	return len(s.Methods) == 0
}

// AwaitingConfirmation is the last step before execution. Quote is the
// preview with any discount applied; PaymentMethodID is set whenever the
// preview requires payment.
type AwaitingConfirmation struct {
	Quote           domain.ChangePreview
	PaymentMethodID string
	DiscountCode    string
	// DiscountErr blocks confirmation until the code is cleared or replaced.
	DiscountErr error

	preview domain.ChangePreview
	methods []domain.PaymentMethod
	nonce   string
}

// Executing holds the request in flight. It cannot be cancelled.
type Executing struct {
	Request domain.ChangeRequest
}

// Succeeded is terminal
type Succeeded struct {
	Result *domain.ChangeResult
}

// Failed holds an execution error. Retryable reports whether Retry leads
// anywhere; reconciliation-required failures never are.
type Failed struct {
	Err       error
	Kind      string
	Retryable bool

	confirm AwaitingConfirmation
}

func (Idle) Name() string                 { return "idle" }
func (PlanSelected) Name() string         { return "plan_selected" }
func (PreviewReady) Name() string         { return "preview_ready" }
func (PreviewFailed) Name() string        { return "preview_failed" }
func (AwaitingPayment) Name() string      { return "awaiting_payment" }
func (AwaitingConfirmation) Name() string { return "awaiting_confirmation" }
func (Executing) Name() string            { return "executing" }
func (Succeeded) Name() string            { return "succeeded" }
func (Failed) Name() string               { return "failed" }

func (Idle) state()                 {}
func (PlanSelected) state()         {}
func (PreviewReady) state()         {}
func (PreviewFailed) state()        {}
func (AwaitingPayment) state()      {}
func (AwaitingConfirmation) state() {}
func (Executing) state()            {}
func (Succeeded) state()            {}
func (Failed) state()               {}

var (
	ErrInvalidTransition = ierr.NewError("transition not allowed from the current state").
				Mark(ierr.ErrInvalidOperation)
	ErrNotCancelable = ierr.NewError("plan change is executing and cannot be cancelled").
				WithHint("Wait for the plan change to finish").
				Mark(ierr.ErrInvalidOperation)
	ErrNotRetryable = ierr.NewError("the failure cannot be retried").
			Mark(ierr.ErrInvalidOperation)
)
