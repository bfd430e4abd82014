package api

import (
	"barcode-edge-agent/internal/agent"
	"barcode-edge-agent/internal/config"
	"barcode-edge-agent/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRouter builds the local device API.
func SetupRouter(cfg *config.Config, a *agent.Agent) *gin.Engine {
	if cfg.Agent.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware(&cfg.CORS))

	handler := NewHandler(a)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/scans", handler.SubmitScan)
		v1.GET("/status", handler.Status)

		devices := v1.Group("/devices")
		{
			devices.GET("/:device_id", handler.Device)
			devices.POST("/:device_id/reregister", handler.Reregister)
			devices.POST("/:device_id/clear", handler.ClearFailure)
		}
	}

	return router
}
