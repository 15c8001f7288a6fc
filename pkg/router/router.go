package router

import (
	"context"
	"net/http"

	"realtime-chat/backend/internal/api"
	"realtime-chat/backend/internal/ws"
	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/di"
	"realtime-chat/backend/pkg/errors"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
	Metrics   http.Handler
}

// New creates a new router with the given container. metrics may be nil.
func New(container *di.Container, metrics http.Handler) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Logger first so every request is captured
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.Tracing())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		Metrics:   metrics,
	}
}

// SetupRoutes registers all application routes. ctx bounds background
// work such as rate limiter cleanup.
func (r *Router) SetupRoutes(ctx context.Context) {
	c := r.Container

	healthController := api.NewHealthController(c.Health, c.Hub, r.Config.Server.Version)
	messageController := api.NewMessageController(c.Store, c.Orchestrator, r.Config.Chat.RecentLimit)
	wsHandler := ws.NewHandler(c.Hub, c.Sessions, ws.Options{
		AllowedOrigins: r.Config.Security.AllowedOrigins,
		DefaultProfile: r.Config.Chat.DefaultProfile,
	}, r.Logger)

	healthController.RegisterHealthRoutes(r.Engine)

	rateLimiter := middleware.NewRateLimiter(r.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(r.Config.Security.RateLimit),
		Burst: r.Config.Security.RateLimitBurst,
	})

	v1 := r.Engine.Group("/api/v1")
	v1.Use(rateLimiter.Middleware(ctx))
	if path := r.Config.Observability.OpenAPISchema; path != "" {
		r.AddOpenAPIValidation(v1, path)
	}
	healthController.RegisterHealthRoutes(v1)
	messageController.RegisterRoutesV1(v1)

	if r.Metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.Metrics))
	}

	r.Engine.GET("/ws", wsHandler.ServeWs)
}

// corsMiddleware allows the configured origins and the websocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case set[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
