package handler

import (
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up the operational routes.
type RouterDeps struct {
	HealthCheckers []ports.HealthChecker
	Gatherer       prometheus.Gatherer         // nil = /metrics disabled
	Reconciliation ports.ReconciliationService // nil = manual sweep disabled
	Mode           string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine for the ops listener.
func SetupRouter(deps RouterDeps) *gin.Engine {
	switch deps.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(deps.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))

	// Deep health check: every storage and broker dependency.
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if deps.Reconciliation != nil {
		reconHandler := NewReconciliationHandler(deps.Reconciliation)
		ops := r.Group("/ops")
		{
			ops.POST("/reconciliation/sweep", reconHandler.Sweep)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, apperror.ErrNotFound("Route"))
	})

	return r
}
