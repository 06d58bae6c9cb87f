package routes

import (
	"github.com/gin-gonic/gin"
)

// SetupFundPoolRoutes sets up all routes related to the fund pool ledger
func SetupFundPoolRoutes(r *gin.Engine, deps Deps) {
	h := deps.FundPool
	fundPool := r.Group("/fund-pool")
	{
		fundPool.GET("/balance", h.GetBalance)
		fundPool.GET("/stats", h.GetStats)
		fundPool.GET("/transactions", h.ListTransactions)
		fundPool.POST("/transactions", h.RecordTransaction)
		fundPool.GET("/coins/:coin", h.GetCoinStats)
		fundPool.POST("/coins/o_coins/price", h.RecordOCoinPrice)
		fundPool.GET("/reconcile", h.Reconcile)
	}

	if deps.Hub != nil {
		r.GET("/ws/fund-pool", deps.Hub.HandleWebSocket)
	}
}
