package api

import (
	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/handlers"
)

func registerLibraryRoutes(api *gin.RouterGroup, handler *handlers.LibraryHandler) {
	library := api.Group("/library")
	{
		library.GET("/games", handler.Games)
		library.GET("/games/:platform/:gameID/achievements", handler.Achievements)
		library.POST("/sync", handler.Sync)
	}
}
