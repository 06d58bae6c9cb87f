package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rewardengine/internal/handlers/business"
	"rewardengine/internal/models"
	"rewardengine/internal/repository"
	"rewardengine/schedule"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDate = "2025-01-15"

var testNow = time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	store  *repository.MemoryStore
	ledger *business.FundPoolLedger
	hub    *FundPoolHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClockAt(testNow)
	store := repository.NewMemoryStore()
	ledger := business.NewFundPoolLedger(store, nil, business.WithLedgerClock(clock))
	_, err := ledger.Seed(context.Background())
	require.NoError(t, err)

	engine := business.NewSettlementEngine(store, ledger,
		business.NewRepositoryActivitySource(store),
		business.FixedIncomeSource{Default: decimal.NewFromInt(1000)},
		nil,
		business.WithEngineClock(clock),
	)
	auto := schedule.NewAutoSettler(engine, schedule.WithClock(clock))
	hub := NewFundPoolHub(nil)
	ledger.Notifier().Subscribe(hub)

	settlement := NewSettlementHandler(engine, auto, clock)
	fundPool := NewFundPoolHandler(ledger, nil, clock)
	activity := NewActivityHandler(store)

	r := gin.New()
	r.GET("/settlement/daily", settlement.ListSettlements)
	r.GET("/settlement/daily/today", settlement.GetTodaySettlement)
	r.GET("/settlement/daily/:date", settlement.GetDailySettlement)
	r.GET("/settlement/daily/:date/distributions", settlement.ListDistributions)
	r.POST("/settlement/daily/:date/execute", settlement.ExecuteSettlement)
	r.POST("/settlement/daily/:date/retry-credits", settlement.RetryCredits)
	r.POST("/settlement/daily/:date/reset", settlement.ResetStuck)
	r.POST("/settlement/auto-check", settlement.AutoCheck)
	r.GET("/fund-pool/balance", fundPool.GetBalance)
	r.GET("/fund-pool/stats", fundPool.GetStats)
	r.GET("/fund-pool/transactions", fundPool.ListTransactions)
	r.POST("/fund-pool/transactions", fundPool.RecordTransaction)
	r.GET("/fund-pool/coins/:coin", fundPool.GetCoinStats)
	r.POST("/fund-pool/coins/o_coins/price", fundPool.RecordOCoinPrice)
	r.GET("/fund-pool/reconcile", fundPool.Reconcile)
	r.POST("/activity", activity.RecordActivity)
	r.GET("/activity/:date", activity.ListActivities)
	r.POST("/distribution/preview", PreviewDistribution)
	r.GET("/ws/fund-pool", hub.HandleWebSocket)

	return &testServer{router: r, store: store, ledger: ledger, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (s *testServer) reportActivity(t *testing.T, user string, gameCoins, computingPower, volume string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/activity", gin.H{
		"user_id":                user,
		"activity_date":          testDate,
		"game_coins_earned":      gameCoins,
		"computing_power_earned": computingPower,
		"transaction_volume":     volume,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func decimalField(t *testing.T, body map[string]interface{}, key string) decimal.Decimal {
	t.Helper()
	raw, ok := body[key].(string)
	require.True(t, ok, "%s is not a decimal string: %v", key, body[key])
	return decimal.RequireFromString(raw)
}

func TestActivityAPI(t *testing.T) {
	s := newTestServer(t)

	// Test Case 1: Record activity
	t.Run("Record Activity", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/activity", gin.H{
			"user_id":                "alice",
			"activity_date":          testDate,
			"game_coins_earned":      "850",
			"computing_power_earned": 1200,
			"transaction_volume":     "2500",
		})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.True(t, decimalField(t, body, "contribution_score").Equal(decimal.NewFromInt(1285)))
	})

	// Test Case 2: Reject bad reports
	t.Run("Reject Invalid Reports", func(t *testing.T) {
		cases := []gin.H{
			{"activity_date": testDate},
			{"user_id": "bob", "activity_date": "15-01-2025"},
			{"user_id": "bob", "activity_date": testDate, "game_coins_earned": "-1"},
		}
		for _, c := range cases {
			w, _ := s.do(t, http.MethodPost, "/activity", c)
			assert.Equal(t, http.StatusBadRequest, w.Code, c)
		}
	})

	// Test Case 3: List activity
	t.Run("List Activities", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/activity/"+testDate, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 1)

		w, _ = s.do(t, http.MethodGet, "/activity/yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSettlementAPI(t *testing.T) {
	s := newTestServer(t)
	s.reportActivity(t, "alice", "850", "1200", "2500")
	s.reportActivity(t, "bob", "254430", "0", "0")

	t.Run("Get Daily Settlement", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/settlement/daily/"+testDate, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ready", body["status"])
		assert.True(t, decimalField(t, body, "distribution_pool").Equal(decimal.NewFromInt(400)))
		assert.Equal(t, float64(2), body["active_user_count"])
	})

	t.Run("Get Today", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/settlement/daily/today", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testDate, body["date"])
	})

	t.Run("Invalid Date", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/settlement/daily/2025-1-5", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "invalid settlement date")
	})

	t.Run("Execute", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/settlement/daily/"+testDate+"/execute", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, float64(2), body["recipients_count"])

		// Test executing again
		w, body = s.do(t, http.MethodPost, "/settlement/daily/"+testDate+"/execute", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["message"], "already completed")
	})

	t.Run("List Distributions", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/settlement/daily/"+testDate+"/distributions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 2)
	})

	t.Run("List Settlements", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/settlement/daily?limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 1)
	})

	t.Run("Reset Completed Settlement", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPost, "/settlement/daily/"+testDate+"/reset", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Retry Credits", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/settlement/daily/"+testDate+"/retry-credits", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), body["attempted"])
	})

	t.Run("Auto Check After Completion", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/settlement/auto-check", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["executed"])
		assert.Equal(t, "completed", body["status"])
	})

	t.Run("Balance Reflects Distribution", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/fund-pool/coins/a_coins", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decimalField(t, body, "circulating_supply").Equal(decimal.NewFromInt(400)))

		w, body = s.do(t, http.MethodGet, "/fund-pool/reconcile", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["consistent"])
	})
}

func TestFundPoolAPI(t *testing.T) {
	s := newTestServer(t)

	t.Run("Record Transaction", func(t *testing.T) {
		w, body := s.do(t, http.MethodPost, "/fund-pool/transactions", gin.H{
			"type": "income", "category": "revenue", "currency": "cash", "amount": "1000", "source": "shop",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.NotEmpty(t, body["id"])
		assert.Equal(t, "cash", body["currency"])
	})

	t.Run("Reject Invalid Transactions", func(t *testing.T) {
		cases := []struct {
			body gin.H
			code int
		}{
			{gin.H{"type": "income", "category": "revenue", "amount": "1"}, http.StatusBadRequest},
			{gin.H{"type": "income", "category": "revenue", "currency": "euro", "amount": "1"}, http.StatusBadRequest},
			{gin.H{"type": "income", "category": "revenue", "currency": "cash", "amount": "0"}, http.StatusBadRequest},
			{gin.H{"type": "refund", "category": "revenue", "currency": "cash", "amount": "1"}, http.StatusBadRequest},
			{gin.H{"type": "expense", "category": "commission", "currency": "cash", "amount": "1000.01"}, http.StatusUnprocessableEntity},
		}
		for _, c := range cases {
			w, _ := s.do(t, http.MethodPost, "/fund-pool/transactions", c.body)
			assert.Equal(t, c.code, w.Code, "%v: %s", c.body, w.Body.String())
		}
	})

	t.Run("Balance", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/fund-pool/balance", nil)
		require.Equal(t, http.StatusOK, w.Code)
		balances, ok := body["balances"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "1000", balances["cash"])
		assert.Len(t, balances, int(models.CurrencyCount))
	})

	t.Run("List Transactions", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/fund-pool/transactions?currency=cash", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 1)

		w, body = s.do(t, http.MethodGet, fmt.Sprintf("/fund-pool/transactions?from=%s&to=%s", testDate, testDate), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 3)

		w, _ = s.do(t, http.MethodGet, "/fund-pool/transactions?from="+testDate, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Stats", func(t *testing.T) {
		w, body := s.do(t, http.MethodGet, "/fund-pool/stats?window=weekly", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "weekly", body["window"])
		assert.Equal(t, float64(3), body["transaction_count"])

		w, _ = s.do(t, http.MethodGet, "/fund-pool/stats?window=hourly", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = s.do(t, http.MethodGet, "/fund-pool/stats?from=2025-01-20&to=2025-01-10", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Coin Stats", func(t *testing.T) {
		w, _ := s.do(t, http.MethodGet, "/fund-pool/coins/o_coins", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = s.do(t, http.MethodGet, "/fund-pool/coins/cash", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = s.do(t, http.MethodGet, "/fund-pool/coins/doge", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("O-Coin Price", func(t *testing.T) {
		w, _ := s.do(t, http.MethodPost, "/fund-pool/coins/o_coins/price", gin.H{"price": "0.25"})
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = s.do(t, http.MethodPost, "/fund-pool/coins/o_coins/price", gin.H{"price": "-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPreviewDistribution(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/distribution/preview", gin.H{
		"pool": "10",
		"recipients": []gin.H{
			{"user_id": "small", "contribution_score": "1"},
			{"user_id": "large", "contribution_score": "999999"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decimalField(t, body, "retained").Equal(decimal.RequireFromString("0.01")))

	w, _ = s.do(t, http.MethodPost, "/distribution/preview", gin.H{"pool": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/distribution/preview", gin.H{
		"pool": "1", "recipients": []gin.H{{"contribution_score": "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrap: %w", models.ErrInvalidDate):            http.StatusBadRequest,
		fmt.Errorf("wrap: %w", models.ErrSettlementNotFound):     http.StatusNotFound,
		fmt.Errorf("wrap: %w", models.ErrNegativeBalance):        http.StatusUnprocessableEntity,
		fmt.Errorf("wrap: %w", models.ErrCirculationUnderflow):   http.StatusUnprocessableEntity,
		fmt.Errorf("wrap: %w", models.ErrSettlementStateChanged): http.StatusConflict,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, code := range cases {
		assert.Equal(t, code, statusFor(err), err.Error())
	}
}

func TestFundPoolHub(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/fund-pool"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = s.ledger.RecordTransaction(context.Background(), business.TransactionInput{
		Type: models.TransactionIncome, Category: models.CategoryRevenue,
		Currency: models.CurrencyCash, Amount: decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt business.LedgerEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, business.EventTransactionRecorded, evt.Type)
	require.Len(t, evt.Transactions, 1)
	assert.Equal(t, models.CurrencyCash, evt.Transactions[0].Currency)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFundPoolHubDropsSlowClients(t *testing.T) {
	hub := NewFundPoolHub([]string{"https://app.example.com"})
	client := hub.register()

	for i := 0; i < wsSendBuffer+1; i++ {
		hub.OnLedgerChange(context.Background(), business.LedgerEvent{Type: business.EventPriceRecorded})
	}
	assert.Equal(t, 0, hub.ClientCount())
	// the send channel is closed once drained
	for range client.send {
	}

	req := httptest.NewRequest(http.MethodGet, "/ws/fund-pool", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.upgrader.CheckOrigin(req))
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, hub.upgrader.CheckOrigin(req))
}
