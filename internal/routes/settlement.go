package routes

import (
	"rewardengine/internal/handlers"
	"rewardengine/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupSettlementRoutes sets up all routes related to daily settlement
func SetupSettlementRoutes(r *gin.Engine, deps Deps) {
	h := deps.Settlement
	settlement := r.Group("/settlement")
	{
		settlement.GET("/daily", h.ListSettlements)
		settlement.GET("/daily/today", h.GetTodaySettlement)
		settlement.GET("/daily/:date", h.GetDailySettlement)
		settlement.GET("/daily/:date/distributions", h.ListDistributions)
		settlement.POST("/daily/:date/execute", middleware.RateLimiterMiddleware(deps.ExecuteLimit), h.ExecuteSettlement)
		settlement.POST("/daily/:date/retry-credits", h.RetryCredits)
		settlement.POST("/daily/:date/reset", h.ResetStuck)
		settlement.POST("/auto-check", middleware.RateLimiterMiddleware(deps.ExecuteLimit), h.AutoCheck)
	}
}

// SetupDistributionRoutes sets up the stateless distribution preview
func SetupDistributionRoutes(r *gin.Engine) {
	r.POST("/distribution/preview", handlers.PreviewDistribution)
}

// SetupActivityRoutes sets up activity intake
func SetupActivityRoutes(r *gin.Engine, deps Deps) {
	activity := r.Group("/activity")
	{
		activity.POST("", deps.Activity.RecordActivity)
		activity.GET("/:date", deps.Activity.ListActivities)
	}
}
