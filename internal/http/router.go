// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/config"
	"fleetloc/internal/http/handlers"
	"fleetloc/internal/http/middleware"
	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/dispatch"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/modules/tracking"
)

type RouterDeps struct {
	Presence *location.Store
	Matcher  *matching.Service
	Tracker  *tracking.Store
	Routes   *routecache.Cache
	Resolver *routecache.Resolver
	Dispatch *dispatch.Service
	// History is nil when no database is configured.
	History handlers.TrailReader
	// Ready reports backend health for /health; nil means always ready.
	Ready func() error
}

func NewRouter(deps RouterDeps, cfg config.Config, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())

	presence := handlers.NewPresenceHandler(deps.Presence, deps.History)
	limiter := middleware.NewKeyedLimiter(cfg.Presence.PingRate, cfg.Presence.PingBurst)
	api := r.Group("/api")
	api.PUT("/workers/:id/presence",
		middleware.RateLimit(limiter, "id", metrics.RateLimitExceeded, log),
		presence.Update)
	api.GET("/workers/:id/presence", presence.Get)
	api.GET("/workers/:id/trail", presence.Trail)
	api.GET("/workers/online", presence.Online)

	match := handlers.NewMatchHandler(deps.Matcher)
	api.POST("/match/nearest", match.Nearest)

	track := handlers.NewTrackingHandler(deps.Tracker, time.Second, log)
	api.PUT("/orders/:id/tracking", track.Update)
	api.GET("/orders/:id/tracking", track.Get)
	api.GET("/orders/:id/tracking/stream", track.Stream)

	disp := handlers.NewDispatchHandler(deps.Dispatch)
	api.POST("/orders/:id/dispatch", disp.Assign)
	api.POST("/orders/:id/complete", disp.Complete)

	routes := handlers.NewRouteHandler(deps.Routes, deps.Resolver, cfg.Routes.TTL)
	api.GET("/routes", routes.Get)
	api.PUT("/routes", routes.Put)
	api.POST("/routes/resolve", routes.Resolve)

	r.GET("/health", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
