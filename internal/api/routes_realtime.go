package api

import (
	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/handlers"
)

func registerRealtimeRoutes(api *gin.RouterGroup, handler *handlers.RealtimeHandler) {
	api.GET("/realtime", handler.Stream)
}
