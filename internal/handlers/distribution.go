package handlers

import (
	"net/http"

	"rewardengine/internal/handlers/business"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// DistributionPreviewReq is the body of POST /distribution/preview.
type DistributionPreviewReq struct {
	Pool       decimal.Decimal      `json:"pool"`
	Recipients []business.Recipient `json:"recipients" binding:"dive"`
}

// PreviewDistribution computes a pro-rata split without writing anything.
func PreviewDistribution(c *gin.Context) {
	var req DistributionPreviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Pool.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pool must not be negative"})
		return
	}

	result := business.DistributeByContribution(req.Pool, req.Recipients)
	c.JSON(http.StatusOK, gin.H{
		"result":   result,
		"retained": result.Retained(),
	})
}
