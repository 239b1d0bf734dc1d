package cli

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/adapters"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/changeflow"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/contracts"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/domain"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/paymentmethod"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/repo/memstore"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/cancel_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/create_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/execute_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/preview_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/reconcile_change"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/renew_subscription"
	"github.com/wuyiadepoju/planchange/internal/app/subscription/usecases/validate_discount"
	"github.com/wuyiadepoju/planchange/internal/config"
	"github.com/wuyiadepoju/planchange/internal/idempotency"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/metrics"
)

// application holds the adapters selected by configuration. Use cases are
// built from it on demand.
type application struct {
	cfg      *config.Configuration
	log      *logger.Logger
	clock    domain.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	subscriptions  contracts.SubscriptionRepository
	plans          contracts.PlanCatalog
	usage          contracts.UsageReader
	paymentMethods contracts.PaymentMethodRepository
	changes        contracts.ChangeStore
	gateway        contracts.PaymentGateway
	discounts      contracts.DiscountValidator
	locker         contracts.ExecutionLocker

	closers []func()
}

func bootstrap(ctx context.Context) (*application, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return newApplication(ctx, cfg, log)
}

func newApplication(ctx context.Context, cfg *config.Configuration, log *logger.Logger) (*application, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &application{
		cfg:      cfg,
		log:      log,
		clock:    domain.RealClock{},
		registry: registry,
		metrics:  metrics.New(registry),
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}
	app.openGateway()
	app.openLocker()

	if cfg.Discount.BaseURL != "" {
		app.discounts = adapters.NewHTTPDiscountClient(cfg.Discount.BaseURL, cfg.Discount.Timeout, cfg.Discount.RetryMax, log)
	}
	return app, nil
}

func (a *application) openStore(ctx context.Context) error {
	if a.cfg.Store.Driver == "memory" {
		store := memstore.New()
		if err := publishCatalog(ctx, store.Plans()); err != nil {
			return err
		}
		a.subscriptions = store.Subscriptions()
		a.plans = store.Plans()
		a.usage = store.Usage()
		a.paymentMethods = store.PaymentMethods()
		a.changes = store.Changes()
		a.log.Warnw("using the in-memory store, state is lost on exit")
		return nil
	}

	client, err := repo.NewClient(ctx, a.cfg.Spanner)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	a.subscriptions = repo.NewSubscriptionRepo(client)
	a.plans = repo.NewCachedPlanCatalog(repo.NewPlanRepo(client), a.cfg.Cache.PlanTTL)
	a.usage = repo.NewUsageRepo(client)
	a.paymentMethods = repo.NewPaymentMethodRepo(client)
	a.changes = repo.NewChangeStore(client)
	return nil
}

func (a *application) openGateway() {
	if a.cfg.Gateway.Provider == "stripe" {
		a.gateway = adapters.NewStripeGateway(a.cfg.Gateway.APIKey, a.log)
		return
	}
	a.gateway = adapters.NewHTTPGateway(&http.Client{Timeout: a.cfg.Gateway.Timeout}, a.cfg.Gateway.BaseURL, a.cfg.Gateway.APIKey)
}

func (a *application) openLocker() {
	if a.cfg.Locker.Driver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Locker.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.locker = adapters.NewRedisLocker(client, a.log)
		return
	}
	a.locker = adapters.NewLocalLocker(a.clock)
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func (a *application) paymentMethodRegistry() *paymentmethod.Registry {
	return paymentmethod.NewRegistry(a.paymentMethods, a.gateway, a.clock, a.log, a.cfg.Execution.ListTimeout)
}

func (a *application) discountInteractor() *validate_discount.Interactor {
	return validate_discount.NewInteractor(a.discounts, a.log)
}

func (a *application) previewInteractor() *preview_change.Interactor {
	return preview_change.NewInteractor(a.subscriptions, a.plans, a.usage, a.discountInteractor(),
		a.clock, a.metrics, a.log, a.cfg.Execution.PreviewTimeout)
}

func (a *application) executeInteractor() *execute_change.Interactor {
	return execute_change.NewInteractor(execute_change.Dependencies{
		Subscriptions:  a.subscriptions,
		Plans:          a.plans,
		Usage:          a.usage,
		Changes:        a.changes,
		Gateway:        a.gateway,
		PaymentMethods: a.paymentMethodRegistry(),
		Discounts:      a.discountInteractor(),
		Locker:         a.locker,
		Keys:           idempotency.NewGenerator(),
		Clock:          a.clock,
		Metrics:        a.metrics,
		Logger:         a.log,
	}, execute_change.Config{
		LockTTL:          a.cfg.Locker.TTL,
		Timeout:          a.cfg.Execution.ExecuteTimeout,
		ChargeMaxRetries: a.cfg.Execution.ChargeMaxRetries,
		ChargeBackoff:    a.cfg.Execution.ChargeBackoff,
	})
}

func (a *application) createInteractor() *create_subscription.Interactor {
	return create_subscription.NewInteractor(a.subscriptions, a.plans, a.clock, a.log)
}

func (a *application) cancelInteractor() *cancel_subscription.Interactor {
	return cancel_subscription.NewInteractor(a.subscriptions, a.locker, a.clock, a.log, a.cfg.Locker.TTL)
}

func (a *application) renewInteractor() *renew_subscription.Interactor {
	return renew_subscription.NewInteractor(a.subscriptions, a.plans, a.locker, a.clock, a.log, a.cfg.Locker.TTL)
}

func (a *application) reconcileInteractor() *reconcile_change.Interactor {
	return reconcile_change.NewInteractor(a.changes, a.subscriptions, a.paymentMethods, a.gateway,
		a.locker, a.clock, a.log, a.cfg.Locker.TTL)
}

func (a *application) changeFlow(businessID, subscriptionID string) *changeflow.Flow {
	return changeflow.New(businessID, subscriptionID, a.previewInteractor(), a.paymentMethodRegistry(),
		a.discountInteractor(), a.executeInteractor(), a.log)
}
