package cli

import (
	"github.com/spf13/cobra"
)

func newRenewCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "renew [subscription-id]",
		Short: "Roll over subscriptions whose billing period has ended",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			renew := app.renewInteractor()
			if len(args) == 1 {
				event, err := renew.Execute(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), event)
			}

			summary, err := renew.RenewDue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum subscriptions to renew in one run")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile [idempotency-key]",
		Short: "Resolve plan changes whose charge succeeded but commit was lost",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			reconcile := app.reconcileInteractor()
			if len(args) == 1 {
				result, err := reconcile.Execute(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			summary, err := reconcile.ReconcileOpen(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum open records to work through")
	return cmd
}
