package v1

import (
	"edge_certd/api/v1/middleware"
	"edge_certd/api/v1/renewal"
	"edge_certd/internal/auth"
	"edge_certd/internal/httpx"

	"github.com/gin-gonic/gin"
)

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, renewer renewal.Renewer, notifier renewal.Notifier) {
	// Health check, probed constantly by the platform
	r.GET("/health", renewal.Health)

	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			renewalHandler := renewal.NewHandler(renewer, notifier)
			renewalGroup := protected.Group("/renewal")
			{
				renewalGroup.GET("/status", renewalHandler.Status)
				renewalGroup.POST("/force", middleware.RequireRole(auth.RoleACMEAdmin), renewalHandler.Force)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}
