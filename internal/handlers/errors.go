package handlers

import (
	"errors"
	"net/http"

	"rewardengine/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidDate),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidCurrency),
		errors.Is(err, models.ErrInvalidTransactionType):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSettlementNotFound),
		errors.Is(err, models.ErrCoinStatsNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNegativeBalance),
		errors.Is(err, models.ErrCirculationUnderflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotStuck),
		errors.Is(err, models.ErrDuplicateSettlement),
		errors.Is(err, models.ErrSettlementStateChanged),
		errors.Is(err, models.ErrSupplyExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}. Unexpected errors are logged and
// reported without their details.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
