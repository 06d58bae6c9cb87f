package handlers

import (
	"net/http"
	"strconv"

	"rewardengine/internal/handlers/business"
	"rewardengine/schedule"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// SettlementHandler serves the daily settlement endpoints.
type SettlementHandler struct {
	engine *business.SettlementEngine
	auto   *schedule.AutoSettler
	clock  clockwork.Clock
}

func NewSettlementHandler(engine *business.SettlementEngine, auto *schedule.AutoSettler, clock clockwork.Clock) *SettlementHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SettlementHandler{engine: engine, auto: auto, clock: clock}
}

// GetDailySettlement returns the settlement of :date, creating it on first read.
func (h *SettlementHandler) GetDailySettlement(c *gin.Context) {
	s, err := h.engine.GetDailySettlementData(c.Request.Context(), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetTodaySettlement returns today's settlement in the settlement time zone.
func (h *SettlementHandler) GetTodaySettlement(c *gin.Context) {
	s, err := h.engine.GetDailySettlementData(c.Request.Context(), h.engine.Today(h.clock.Now()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListSettlements returns the most recent settlements.
// Query parameters: limit (default: 30, max: 365)
func (h *SettlementHandler) ListSettlements(c *gin.Context) {
	limit := 30
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 365 {
			limit = parsed
		}
	}
	list, err := h.engine.ListSettlements(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// ExecuteSettlement runs the settlement of :date. Rejected runs (already
// completed, processing or without income) answer 200 with success=false.
func (h *SettlementHandler) ExecuteSettlement(c *gin.Context) {
	result, err := h.engine.ExecuteSettlement(c.Request.Context(), c.Param("date"))
	if err != nil {
		if result != nil {
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AutoCheck performs the same check as the scheduler at the current time.
func (h *SettlementHandler) AutoCheck(c *gin.Context) {
	res, err := h.auto.CheckAndExecute(c.Request.Context(), h.clock.Now())
	if err != nil {
		if res != nil && res.Result != nil {
			c.JSON(http.StatusInternalServerError, res)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RetryCredits redelivers pending wallet credits of :date.
func (h *SettlementHandler) RetryCredits(c *gin.Context) {
	res, err := h.engine.RetryFailedCredits(c.Request.Context(), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResetStuck moves a settlement stuck in processing to failed.
func (h *SettlementHandler) ResetStuck(c *gin.Context) {
	s, err := h.engine.ResetStuckSettlement(c.Request.Context(), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListDistributions returns the distribution records of :date.
func (h *SettlementHandler) ListDistributions(c *gin.Context) {
	records, err := h.engine.ListDistributions(c.Request.Context(), c.Param("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}
