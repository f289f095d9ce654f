package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ralph/internal/handlers"
	"ralph/internal/middleware"
)

type Options struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.Default()

	r.Any("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.RateLimiterMiddleware(opts.RateLimit))

	SetupBotRoutes(r, h)

	return r
}
