package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RouterConfig carries the services the HTTP API is built on
type RouterConfig struct {
	Auth        *service.AuthService
	Clearance   *service.ClearanceService
	Coordinator *service.FailureCoordinator
	Pool        *service.TokenPool
	Gateway     *service.GatewayService
	Metrics     prometheus.Gatherer

	// RefreshInterval is the minimum spacing between operator-triggered refreshes.
	// Zero disables throttling.
	RefreshInterval time.Duration
	Logger          zerolog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(cfg.Logger))

	limit := rate.Inf
	if cfg.RefreshInterval > 0 {
		limit = rate.Every(cfg.RefreshInterval)
	}

	clearance := NewClearanceHandlers(cfg.Clearance, cfg.Coordinator, rate.NewLimiter(limit, 1))
	tokens := NewTokenHandlers(cfg.Pool)
	relay := NewRelayHandlers(cfg.Gateway, cfg.Logger)

	router.GET("/health", Health)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{})))
	}

	// Operator routes
	ops := router.Group("/v1")
	ops.Use(AuthMiddleware(cfg.Auth, core.RoleOperator))
	{
		ops.GET("/clearance/status", clearance.Status)
		ops.POST("/clearance/refresh", clearance.Refresh)

		ops.GET("/tokens", tokens.List)
		ops.POST("/tokens", tokens.Add)
		ops.DELETE("/tokens/:id", tokens.Delete)
		ops.POST("/tokens/:id/reset", tokens.Reset)
		ops.PUT("/tokens/:id/quota", tokens.UpdateQuota)
	}

	// Relay routes
	api := router.Group("/v1")
	api.Use(AuthMiddleware(cfg.Auth, core.RoleClient))
	{
		api.POST("/relay", relay.Relay)
	}

	return router
}
