package router

import (
	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/handler"
)

func PersonaRouter(rg *gin.RouterGroup, h *handler.PersonaHandler) {
	rg.GET("", h.Roster)
}
