package api

import (
	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/handlers"
)

func registerPlatformRoutes(api *gin.RouterGroup, handler *handlers.PlatformsHandler, sso *handlers.SSOHandler) {
	platforms := api.Group("/platforms")
	{
		platforms.GET("", handler.List)
		// Steam has no secret to post: linking walks the OpenID flow.
		platforms.GET("/steam/link", sso.BeginSteamLink)
		platforms.PUT("/:platform", handler.Connect)
		platforms.DELETE("/:platform", handler.Disconnect)
	}
}
