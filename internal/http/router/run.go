package router

import (
	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/handler"
	"consilium.app/panel/internal/http/middleware"
)

// RunRouter sets up run routes. Only submission is rate limited;
// polling a run you already started must never be throttled.
func RunRouter(rg *gin.RouterGroup, h *handler.RunHandler, limiter *middleware.RateLimiter) {
	create := rg.Group("")
	if limiter != nil {
		create.Use(limiter.Middleware())
	}
	create.POST("", h.Create)

	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/transcript", h.Transcript)
}
