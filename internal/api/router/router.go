package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/provenix/evidence-keeper/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, verifies the database and broker connections
	r.GET("/health", func(c *gin.Context) {
		if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "evidence-api-service",
				"error":   "database unavailable",
			})
			return
		}
		if !deps.RabbitClient.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "evidence-api-service",
				"error":   "message broker unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "evidence-api-service",
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize evidence handler
	evidenceHandler := handler.NewEvidenceHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		evidence := v1.Group("/evidence")
		{
			// POST /api/v1/evidence - Submit a payload digest for anchoring
			evidence.POST("", evidenceHandler.SubmitEvidence)

			// GET /api/v1/evidence - List jobs with filtering and pagination
			evidence.GET("", evidenceHandler.ListEvidence)

			// GET /api/v1/evidence/:job_id - Get job details
			evidence.GET("/:job_id", evidenceHandler.GetEvidence)

			// GET /api/v1/evidence/:job_id/proof - Get Merkle inclusion proof
			evidence.GET("/:job_id/proof", evidenceHandler.GetProof)
		}

		// GET /api/v1/batches/stats - Anchored batch totals
		v1.GET("/batches/stats", evidenceHandler.GetBatchStats)
	}

	return r
}
