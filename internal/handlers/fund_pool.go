package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/models"
	"rewardengine/internal/repository"
	"rewardengine/pkg/cache"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// FundPoolHandler serves the fund pool ledger endpoints.
type FundPoolHandler struct {
	ledger   *business.FundPoolLedger
	balances cache.BalanceReader
	clock    clockwork.Clock
}

// NewFundPoolHandler reads balances through balances when it is not nil, else from the ledger.
func NewFundPoolHandler(ledger *business.FundPoolLedger, balances cache.BalanceReader, clock clockwork.Clock) *FundPoolHandler {
	if balances == nil {
		balances = ledger
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FundPoolHandler{ledger: ledger, balances: balances, clock: clock}
}

// RecordTransactionReq is the body of POST /fund-pool/transactions.
type RecordTransactionReq struct {
	Type                 models.TransactionType `json:"type" binding:"required"`
	Category             string                 `json:"category" binding:"required"`
	Currency             *models.Currency       `json:"currency" binding:"required"`
	Amount               decimal.Decimal        `json:"amount"`
	Source               string                 `json:"source"`
	RelatedTransactionID *string                `json:"related_transaction_id"`
	Meta                 models.JSONMap         `json:"meta"`
}

// RecordPriceReq is the body of POST /fund-pool/coins/o_coins/price.
type RecordPriceReq struct {
	Price decimal.Decimal `json:"price"`
}

func (h *FundPoolHandler) GetBalance(c *gin.Context) {
	balance, err := h.balances.GetPublicFundPoolBalance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// GetStats returns income/expense/net summaries.
// Query parameters: window (daily|weekly|monthly, default: daily), from, to (YYYY-MM-DD, optional, to is inclusive)
func (h *FundPoolHandler) GetStats(c *gin.Context) {
	window, err := business.ParseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	from, to := c.Query("from"), c.Query("to")
	if from == "" && to == "" {
		stats, err := h.ledger.GetFundPoolStats(c.Request.Context(), window, h.clock.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
		return
	}

	start, end, err := h.parseRange(from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.ledger.StatsBetween(c.Request.Context(), window, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parseRange turns inclusive day keys into a half-open time range.
func (h *FundPoolHandler) parseRange(from, to string) (time.Time, time.Time, error) {
	loc := h.ledger.Location()
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to must be given together", models.ErrInvalidDate)
	}
	start, err := time.ParseInLocation(models.DateLayout, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", models.ErrInvalidDate, from)
	}
	last, err := time.ParseInLocation(models.DateLayout, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", models.ErrInvalidDate, to)
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to is before from", models.ErrInvalidDate)
	}
	return start, last.AddDate(0, 0, 1), nil
}

func (h *FundPoolHandler) RecordTransaction(c *gin.Context) {
	var req RecordTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.ledger.RecordTransaction(c.Request.Context(), business.TransactionInput{
		Type:                 req.Type,
		Category:             req.Category,
		Currency:             *req.Currency,
		Amount:               req.Amount,
		Source:               req.Source,
		RelatedTransactionID: req.RelatedTransactionID,
		Meta:                 req.Meta,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// ListTransactions returns ledger entries.
// Query parameters: from, to (YYYY-MM-DD, inclusive), currency, category, limit (default: 100, max: 1000)
func (h *FundPoolHandler) ListTransactions(c *gin.Context) {
	filter := repository.TransactionFilter{Category: c.Query("category"), Limit: 100}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			filter.Limit = parsed
		}
	}
	if name := c.Query("currency"); name != "" {
		currency, err := models.ParseCurrency(name)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Currency = &currency
	}
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		start, end, err := h.parseRange(from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.From, filter.To = start, end
	}

	txs, err := h.ledger.Transactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []models.FundPoolTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (h *FundPoolHandler) GetCoinStats(c *gin.Context) {
	coin, err := models.ParseCurrency(c.Param("coin"))
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.ledger.CoinStats(c.Request.Context(), coin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *FundPoolHandler) Reconcile(c *gin.Context) {
	report, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RecordOCoinPrice stores a quote from the external price oracle.
func (h *FundPoolHandler) RecordOCoinPrice(c *gin.Context) {
	var req RecordPriceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ledger.RecordOCoinPrice(c.Request.Context(), req.Price); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "price recorded", "price": req.Price})
}
