package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/wuyiadepoju/planchange/internal/api"
	v1 "github.com/wuyiadepoju/planchange/internal/api/v1"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			if app.cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.NewRouter(api.Handlers{
				PlanChange:     v1.NewPlanChangeHandler(app.previewInteractor(), app.executeInteractor(), app.log),
				PaymentMethods: v1.NewPaymentMethodHandler(app.paymentMethodRegistry()),
				Discounts:      v1.NewDiscountHandler(app.discountInteractor()),
			}, app.registry, app.log)

			srv := &http.Server{
				Addr:              app.cfg.Server.Address,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				app.log.Infow("http server listening", "address", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			app.log.Infow("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
