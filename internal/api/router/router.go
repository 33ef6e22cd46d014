package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/paperpod/internal/api/handler"
	"github.com/cuongbtq/paperpod/internal/webhook"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, notifications *webhook.Adapter) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "paperpod-tracker",
		})
	})

	// Webhook receiver for pushed status notifications
	r.POST("/webhook", notifications.Handle)

	// Initialize episode handler
	episodeHandler := handler.NewEpisodeHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		episodes := v1.Group("/episodes")
		{
			// POST /api/v1/episodes - Submit a generation job for a paper
			episodes.POST("", episodeHandler.CreateEpisode)

			// GET /api/v1/episodes - List episodes with filtering and pagination
			episodes.GET("", episodeHandler.ListEpisodes)

			// GET /api/v1/episodes/:job_id - Get episode details
			episodes.GET("/:job_id", episodeHandler.GetEpisode)

			// GET /api/v1/episodes/:job_id/status - Live tracking snapshot
			episodes.GET("/:job_id/status", episodeHandler.GetEpisodeStatus)

			// POST /api/v1/episodes/:job_id/cancel - Stop tracking a job
			episodes.POST("/:job_id/cancel", episodeHandler.CancelEpisode)
		}
	}

	return r
}
