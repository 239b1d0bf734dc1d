package changeflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/paymentmethod"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/preview_change"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

// Previewer computes change previews
type Previewer interface {
	Execute(ctx context.Context, req preview_change.Request) (*domain.ChangePreview, error)
}

// PaymentMethods lists and adds a business's instruments
type PaymentMethods interface {
	ListMethods(ctx context.Context, businessID string) ([]domain.PaymentMethod, error)
	AddMethod(ctx context.Context, businessID string, card domain.CardData) (*domain.PaymentMethod, error)
}

// DiscountApplier validates a code against a preview and applies it
type DiscountApplier interface {
	Apply(ctx context.Context, preview *domain.ChangePreview, code string) error
}

// Executor performs a confirmed change
type Executor interface {
	Execute(ctx context.Context, req domain.ChangeRequest) (*domain.ChangeResult, error)
}

// Flow is one caller's plan change session for a single subscription. It is
// safe for concurrent use; a transition attempted while another is running
// sees the state that transition left behind.
type Flow struct {
	businessID     string
	subscriptionID string

	previewer Previewer
	methods   PaymentMethods
	discounts DiscountApplier
	executor  Executor
	logger    *logger.Logger
	newNonce  func() string

	mu    sync.Mutex
	state State
}

// New starts a flow in the Idle state
func New(businessID, subscriptionID string, previewer Previewer, methods PaymentMethods, discounts DiscountApplier, executor Executor, log *logger.Logger) *Flow {
	return &Flow{
		businessID:     businessID,
		subscriptionID: subscriptionID,
		previewer:      previewer,
		methods:        methods,
		discounts:      discounts,
		executor:       executor,
		logger:         log.With("business_id", businessID, "subscription_id", subscriptionID),
		newNonce:       func() string { return uuid.New().String() },
		state:          Idle{},
	}
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) transition(to State) {
	f.logger.Debugw("plan change flow transition", "from", f.state.Name(), "to", to.Name())
	f.state = to
}

func (f *Flow) invalid(op string) error {
	return ierr.WithError(ErrInvalidTransition).
		WithMessagef("%s from %s", op, f.state.Name()).
		Mark(ierr.ErrInvalidOperation)
}

// SelectPlan chooses the target plan. It is allowed from Idle and, to try
// again or pick another plan, from PreviewFailed.
func (f *Flow) SelectPlan(planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state.(type) {
	case Idle, PreviewFailed:
	default:
		return f.invalid("select plan")
	}
	if planID == "" {
		return domain.ErrInvalidPlanID
	}

	f.transition(PlanSelected{PlanID: planID})
	return nil
}

// LoadPreview computes the preview for the selected plan. A backend failure
// or a preview with limitations moves the flow to PreviewFailed; no preview
// is ever fabricated locally.
func (f *Flow) LoadPreview(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(PlanSelected)
	if !ok {
		return f.invalid("load preview")
	}

	preview, err := f.previewer.Execute(ctx, preview_change.Request{
		BusinessID:     f.businessID,
		SubscriptionID: f.subscriptionID,
		PlanID:         s.PlanID,
	})
	if err != nil {
		f.transition(PreviewFailed{PlanID: s.PlanID, Err: err})
		return err
	}
	if !preview.CanProceed {
		err := ierr.WithError(domain.ErrPlanLimitsExceeded).
			WithReportableDetails(map[string]any{"limitations": preview.Limitations}).
			Mark(ierr.ErrBusinessRule)
		f.transition(PreviewFailed{PlanID: s.PlanID, Preview: preview, Err: err})
		return err
	}

	f.transition(PreviewReady{Preview: *preview})
	return nil
}

// Proceed moves past the preview. Changes that require payment list the
// business's instruments and wait for one; the rest go straight to
// confirmation.
func (f *Flow) Proceed(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(PreviewReady)
	if !ok {
		return f.invalid("proceed")
	}

	if !s.Preview.PaymentRequired {
		f.transition(f.confirmation(s.Preview, "", nil))
		return nil
	}

	methods, err := f.methods.ListMethods(ctx, f.businessID)
	if err != nil {
		return err
	}
	f.transition(AwaitingPayment{Preview: s.Preview, Methods: methods})
	return nil
}

// SelectPaymentMethod picks a stored instrument. An empty id picks the
// default one. With no stored instruments AddPaymentMethod is the only way
// forward.
func (f *Flow) SelectPaymentMethod(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(AwaitingPayment)
	if !ok {
		return f.invalid("select payment method")
	}

	var method domain.PaymentMethod
	if id == "" {
		if method, ok = paymentmethod.SelectDefault(s.Methods); !ok {
			return domain.ErrPaymentMethodRequired
		}
	} else if method, ok = lo.Find(s.Methods, func(m domain.PaymentMethod) bool { return m.ID == id }); !ok {
		return domain.ErrPaymentMethodNotFound
	}

	f.transition(f.confirmation(s.Preview, method.ID, s.Methods))
	return nil
}

// AddPaymentMethod validates and stores a new card, then selects it.
// Validation failures leave the flow waiting for payment.
func (f *Flow) AddPaymentMethod(ctx context.Context, card domain.CardData) (*domain.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(AwaitingPayment)
	if !ok {
		return nil, f.invalid("add payment method")
	}

	method, err := f.methods.AddMethod(ctx, f.businessID, card)
	if err != nil {
		return nil, err
	}

	f.transition(f.confirmation(s.Preview, method.ID, append(s.Methods, *method)))
	return method, nil
}

// ApplyDiscount validates code and, when valid, replaces the quoted total.
// An invalid code keeps the undiscounted total and blocks Confirm until the
// code is cleared or replaced.
func (f *Flow) ApplyDiscount(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(AwaitingConfirmation)
	if !ok {
		return f.invalid("apply discount")
	}

	quote := s.preview
	err := f.discounts.Apply(ctx, &quote, code)
	if err != nil && !ierr.IsValidation(err) {
		return err
	}

	// The amount may change, so the confirmation gets a fresh nonce.
	next := f.confirmation(s.preview, s.PaymentMethodID, s.methods)
	next.Quote = quote
	next.DiscountCode = code
	next.DiscountErr = err
	f.transition(next)
	return err
}

// ClearDiscount drops any discount code and restores the undiscounted quote.
func (f *Flow) ClearDiscount() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(AwaitingConfirmation)
	if !ok {
		return f.invalid("clear discount")
	}

	f.transition(f.confirmation(s.preview, s.PaymentMethodID, s.methods))
	return nil
}

// Confirm executes the change. From here on the flow cannot be cancelled;
// the call returns once the execution reaches Succeeded or Failed.
func (f *Flow) Confirm(ctx context.Context) (*domain.ChangeResult, error) {
	f.mu.Lock()
	s, ok := f.state.(AwaitingConfirmation)
	switch {
	case !ok:
		err := f.invalid("confirm")
		f.mu.Unlock()
		return nil, err
	case s.Quote.PaymentRequired && s.PaymentMethodID == "":
		f.mu.Unlock()
		return nil, domain.ErrPaymentMethodRequired
	case s.DiscountErr != nil:
		f.mu.Unlock()
		return nil, s.DiscountErr
	}

	req := domain.ChangeRequest{
		BusinessID:      f.businessID,
		SubscriptionID:  f.subscriptionID,
		TargetPlanID:    s.Quote.NewPlan.ID,
		PaymentMethodID: s.PaymentMethodID,
		DiscountCode:    s.DiscountCode,
		ExpectedVersion: s.Quote.SubscriptionVersion,
		IdempotencyKey:  s.nonce,
	}
	f.transition(Executing{Request: req})
	f.mu.Unlock()

	result, err := f.executor.Execute(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		failed := Failed{
			Err:       err,
			Kind:      ierr.KindOf(err),
			Retryable: retryable(err),
			confirm:   s,
		}
		f.transition(failed)
		return nil, err
	}

	f.transition(Succeeded{Result: result})
	return result, nil
}

// Retry leaves Failed for the state the failure calls for: payment failures
// go back to instrument selection with a fresh nonce, transient failures go
// back to confirmation with the same nonce, conflicts recompute the preview.
func (f *Flow) Retry(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state.(Failed)
	if !ok {
		return f.invalid("retry")
	}
	if !s.Retryable {
		return ErrNotRetryable
	}

	switch {
	case ierr.IsPaymentFailed(s.Err), ierr.Fields(s.Err)["payment_method_id"] != "":
		methods, err := f.methods.ListMethods(ctx, f.businessID)
		if err != nil {
			return err
		}
		f.transition(AwaitingPayment{Preview: s.confirm.preview, Methods: methods})
	case ierr.IsConflict(s.Err):
		f.transition(PlanSelected{PlanID: s.confirm.preview.NewPlan.ID})
	case ierr.IsValidation(s.Err):
		next := s.confirm
		if ierr.Fields(s.Err)["discount_code"] != "" {
			next.DiscountErr = s.Err
		}
		f.transition(next)
	default:
		f.transition(s.confirm)
	}
	return nil
}

// Cancel abandons the flow without any backend effect. It is refused once
// execution has started, and a failure that cannot be retried stays final.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch s := f.state.(type) {
	case Executing:
		return ErrNotCancelable
	case Succeeded:
		return f.invalid("cancel")
	case Failed:
		if !s.Retryable {
			return ErrNotRetryable
		}
	}

	f.transition(Idle{})
	return nil
}

func (f *Flow) confirmation(preview domain.ChangePreview, methodID string, methods []domain.PaymentMethod) AwaitingConfirmation {
	return AwaitingConfirmation{
		Quote:           preview,
		PaymentMethodID: methodID,
		preview:         preview,
		methods:         methods,
		nonce:           f.newNonce(),
	}
}

func retryable(err error) bool {
	switch ierr.KindOf(err) {
	case ierr.ErrCodePaymentFailed, ierr.ErrCodeTransient, ierr.ErrCodeConflict, ierr.ErrCodeValidation:
		return true
	}
	return false
}
