package cli

import (
	"github.com/spf13/cobra"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/cancel_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/create_subscription"
)

func newSubscribeCmd() *cobra.Command {
	var req create_subscription.Request

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Start a subscription for a business",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			sub, _, err := app.createInteractor().Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub.Snapshot())
		},
	}

	cmd.Flags().StringVar(&req.BusinessID, "business", "", "Business ID")
	cmd.Flags().StringVar(&req.PlanID, "plan", "", "Plan ID")
	cmd.Flags().IntVar(&req.TrialDays, "trial-days", 0, "Trial length in days")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var req cancel_subscription.Request

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a subscription at the end of its period",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			event, err := app.cancelInteractor().Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}

	cmd.Flags().StringVar(&req.BusinessID, "business", "", "Business ID")
	cmd.Flags().StringVar(&req.SubscriptionID, "subscription", "", "Subscription ID")
	return cmd
}
