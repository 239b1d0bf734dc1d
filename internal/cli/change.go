package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/changeflow"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
)

type changeOptions struct {
	businessID      string
	subscriptionID  string
	planID          string
	paymentMethodID string
	discountCode    string
	card            domain.CardData
	confirm         bool
	retries         int
}

// newChangeCmd walks one plan change through the in-process flow: preview,
// payment method, discount, confirmation.
func newChangeCmd() *cobra.Command {
	var opts changeOptions

	cmd := &cobra.Command{
		Use:   "change",
		Short: "Preview and execute a plan change",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			return runChange(cmd, app.changeFlow(opts.businessID, opts.subscriptionID), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.businessID, "business", "", "Business ID")
	f.StringVar(&opts.subscriptionID, "subscription", "", "Subscription ID")
	f.StringVar(&opts.planID, "plan", "", "Target plan ID")
	f.StringVar(&opts.paymentMethodID, "payment-method", "", "Stored payment method ID (default method when empty)")
	f.StringVar(&opts.discountCode, "discount", "", "Discount code")
	f.StringVar(&opts.card.HolderName, "card-holder", "", "Holder name of a new card")
	f.StringVar(&opts.card.Number, "card-number", "", "Number of a new card")
	f.IntVar(&opts.card.ExpMonth, "card-exp-month", 0, "Expiry month of a new card")
	f.IntVar(&opts.card.ExpYear, "card-exp-year", 0, "Expiry year of a new card")
	f.StringVar(&opts.card.CVC, "card-cvc", "", "CVC of a new card")
	f.BoolVar(&opts.card.MakeDefault, "card-default", false, "Make the new card the default")
	f.BoolVar(&opts.confirm, "yes", false, "Execute the change instead of only quoting it")
	f.IntVar(&opts.retries, "retries", 1, "Confirmation retries after a transient failure")
	_ = cmd.MarkFlagRequired("business")
	_ = cmd.MarkFlagRequired("subscription")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func runChange(cmd *cobra.Command, flow *changeflow.Flow, opts changeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := flow.SelectPlan(opts.planID); err != nil {
		return err
	}
	if err := flow.LoadPreview(ctx); err != nil {
		if s, ok := flow.State().(changeflow.PreviewFailed); ok && s.Preview != nil {
			_ = printJSON(out, s.Preview)
		}
		return err
	}
	if err := flow.Proceed(ctx); err != nil {
		return err
	}

	if s, ok := flow.State().(changeflow.AwaitingPayment); ok {
		switch {
		case opts.card.Number != "":
			if _, err := flow.AddPaymentMethod(ctx, opts.card); err != nil {
				return err
			}
		case s.NeedsNewMethod():
			return ierr.WithError(domain.ErrPaymentMethodRequired).
				WithHint("No payment method is stored for this business, pass --card-number to add one").
				Mark(ierr.ErrValidation)
		default:
			if err := flow.SelectPaymentMethod(opts.paymentMethodID); err != nil {
				return err
			}
		}
	}

	if opts.discountCode != "" {
		if err := flow.ApplyDiscount(ctx, opts.discountCode); err != nil {
			return err
		}
	}

	quote := flow.State().(changeflow.AwaitingConfirmation).Quote
	if !opts.confirm {
		if err := printJSON(out, quote); err != nil {
			return err
		}
		_, err := fmt.Fprintln(cmd.ErrOrStderr(), "quote only; pass --yes to execute the change")
		return err
	}

	for attempt := 0; ; attempt++ {
		result, err := flow.Confirm(ctx)
		if err == nil {
			return printJSON(out, result)
		}
		if !ierr.IsTransient(err) || attempt >= opts.retries {
			return err
		}
		if err := flow.Retry(ctx); err != nil {
			return err
		}
	}
}
