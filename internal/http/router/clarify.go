package router

import (
	"github.com/gin-gonic/gin"

	"consilium.app/panel/internal/http/handler"
)

func ClarifyRouter(rg *gin.RouterGroup, h *handler.ClarifyHandler) {
	rg.POST("", h.Suggest)
}
