package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/app"
	"github.com/questlog/questlog/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, handler *handlers.HealthHandler) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	r.GET("/health", handler.Live)
	r.GET("/health/ready", handler.Ready)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
