package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	v1 "github.com/wuyiadepoju/planchange/internal/api/v1"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"github.com/wuyiadepoju/planchange/internal/rest/middleware"
)

type Handlers struct {
	PlanChange     *v1.PlanChangeHandler
	PaymentMethods *v1.PaymentMethodHandler
	Discounts      *v1.DiscountHandler
}

func NewRouter(handlers Handlers, gatherer prometheus.Gatherer, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.RequestLogger(log),
		middleware.ErrorHandler(),
	)

	router.GET("/healthz", v1.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	registerV1Routes(router.Group("/v1"), handlers)
	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	business := router.Group("/businesses/:business_id")
	{
		business.GET("/payment-methods", handlers.PaymentMethods.List)
		business.POST("/payment-methods", handlers.PaymentMethods.Add)

		subscription := business.Group("/subscriptions/:subscription_id")
		subscription.GET("/preview", handlers.PlanChange.Preview)
		subscription.POST("/plan-change", handlers.PlanChange.Execute)
	}

	router.POST("/discounts/validate", handlers.Discounts.Validate)
}
