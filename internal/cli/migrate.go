package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/migrations"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo"
	"github.com/wuyiadepoju/planchange/internal/config"
	"github.com/wuyiadepoju/planchange/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	var (
		timeout   time.Duration
		seedPlans bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Spanner schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			log, err := logger.NewLogger(cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := migrations.RunMigrations(ctx, cfg.Spanner, log); err != nil {
				return err
			}
			if !seedPlans {
				return nil
			}

			client, err := repo.NewClient(ctx, cfg.Spanner)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := publishCatalog(ctx, repo.NewPlanRepo(client)); err != nil {
				return err
			}
			log.Infow("default plan catalog published", "plans", len(defaultCatalog()))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for migration operations")
	cmd.Flags().BoolVar(&seedPlans, "seed-plans", false, "Publish the default plan catalog after migrating")
	return cmd
}
