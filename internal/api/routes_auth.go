package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/handlers"
	"github.com/questlog/questlog/internal/middleware"
)

type authRouteDeps struct {
	Auth      *handlers.AuthHandler
	SSO       *handlers.SSOHandler
	Profile   *handlers.ProfileHandler
	RateStore middleware.RateStore
}

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, deps authRouteDeps) {
	// Credential and SSO endpoints are the main brute-force target, so they
	// get a much tighter budget than the global limiter.
	auth := engine.Group("/api/auth")
	auth.Use(middleware.RateLimitWithStore(deps.RateStore, 20, time.Minute, "rl:auth"))
	{
		auth.POST("/register", deps.Auth.Register)
		auth.POST("/login", deps.Auth.Login)
		auth.POST("/refresh", deps.Auth.Refresh)
		auth.GET("/providers", deps.SSO.Providers)
		auth.GET("/:provider/begin", deps.SSO.Begin)
		auth.GET("/:provider/callback", deps.SSO.Callback)
	}

	api.GET("/auth/me", deps.Auth.Me)
	api.POST("/auth/logout", deps.Auth.Logout)
	api.POST("/auth/password", deps.Profile.ChangePassword)
	api.PATCH("/profile", deps.Profile.Update)
}
