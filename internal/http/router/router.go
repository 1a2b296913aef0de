package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/handler"
	"consilium.app/panel/internal/http/middleware"
	"consilium.app/panel/internal/service"
)

type RouterConfig struct {
	DefaultModel       string
	RateLimitPerMinute int
}

func SetupRoutes(router *gin.Engine, runs service.RunService, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		ClarifyRouter(v1.Group("/clarifications"), handler.NewClarifyHandler(runs))
		PersonaRouter(v1.Group("/personas"), handler.NewPersonaHandler(cfg.DefaultModel))

		var limiter *middleware.RateLimiter
		if cfg.RateLimitPerMinute > 0 {
			limiter = middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		}
		RunRouter(v1.Group("/runs"), handler.NewRunHandler(runs, cfg.DefaultModel), limiter)
	}
}
