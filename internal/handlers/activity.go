package handlers

import (
	"net/http"
	"time"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/models"
	"rewardengine/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ActivityHandler takes activity reports from the activity collaborator.
type ActivityHandler struct {
	repo repository.ActivityRepository
}

func NewActivityHandler(repo repository.ActivityRepository) *ActivityHandler {
	return &ActivityHandler{repo: repo}
}

// RecordActivityReq 用户活跃数据上报请求，同一用户同一天重复上报会累加
type RecordActivityReq struct {
	UserID               string          `json:"user_id" binding:"required,max=64"`
	ActivityDate         string          `json:"activity_date" binding:"required"`
	GameCoinsEarned      decimal.Decimal `json:"game_coins_earned"`
	ComputingPowerEarned decimal.Decimal `json:"computing_power_earned"`
	TransactionVolume    decimal.Decimal `json:"transaction_volume"`
}

func (h *ActivityHandler) RecordActivity(c *gin.Context) {
	var req RecordActivityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := time.Parse(models.DateLayout, req.ActivityDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activity_date must be YYYY-MM-DD"})
		return
	}
	if req.GameCoinsEarned.IsNegative() || req.ComputingPowerEarned.IsNegative() || req.TransactionVolume.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activity metrics must not be negative"})
		return
	}

	activity := models.UserActivity{
		UserID:               req.UserID,
		ActivityDate:         req.ActivityDate,
		GameCoinsEarned:      req.GameCoinsEarned,
		ComputingPowerEarned: req.ComputingPowerEarned,
		TransactionVolume:    req.TransactionVolume,
	}
	if err := h.repo.RecordActivity(c.Request.Context(), activity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":            "activity recorded",
		"contribution_score": business.NewContributionRecord(activity).ContributionScore,
	})
}

// ListActivities returns the activity reported for :date.
func (h *ActivityHandler) ListActivities(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	list, err := h.repo.ListActivities(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.UserActivity{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}
