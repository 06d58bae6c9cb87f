package routes

import (
	"time"

	"rewardengine/internal/handlers"
	"rewardengine/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the handlers the router wires.
type Deps struct {
	Settlement *handlers.SettlementHandler
	FundPool   *handlers.FundPoolHandler
	Activity   *handlers.ActivityHandler
	Hub        *handlers.FundPoolHub

	AllowedOrigins []string
	// ExecuteLimit throttles manual settlement execution per client IP.
	ExecuteLimit middleware.RateLimiterConfig
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.Default()

	r.Any("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(deps.AllowedOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.Use(cors.New(corsConfig))

	SetupSettlementRoutes(r, deps)
	SetupFundPoolRoutes(r, deps)
	SetupActivityRoutes(r, deps)
	SetupDistributionRoutes(r)

	return r
}
