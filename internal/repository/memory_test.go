package repository

import (
	"context"
	"testing"
	"time"

	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const date = "2025-01-15"

var at = time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func genesis(coin models.Currency, supply string) (models.FundPoolTransaction, models.CoinStats) {
	return models.FundPoolTransaction{
			ID: "genesis-" + coin.String(), Type: models.TransactionIncome, Category: models.CategoryGenesis,
			Currency: coin, Amount: amount(supply), Timestamp: at,
		}, models.CoinStats{
			Coin: coin, TotalSupply: amount(supply), CirculatingSupply: decimal.Zero,
			TotalDistributed: decimal.Zero, LastPrice: decimal.Zero,
		}
}

func readySettlement(t *testing.T, m *MemoryStore) {
	t.Helper()
	require.NoError(t, m.CreateSettlement(context.Background(), &models.DailySettlement{
		Date:              date,
		PlatformNetIncome: amount("100"),
		DistributionPool:  amount("40"),
		Status:            models.SettlementStatusReady,
		DistributedAmount: decimal.Zero,
	}))
}

func lock(t *testing.T, m *MemoryStore) {
	t.Helper()
	ok, err := m.TransitionSettlement(context.Background(), Transition{
		Date: date,
		From: []models.SettlementStatus{models.SettlementStatusReady, models.SettlementStatusFailed},
		To:   models.SettlementStatusProcessing,
		At:   at,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStoreSettlements(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.GetSettlement(ctx, date)
	assert.ErrorIs(t, err, models.ErrSettlementNotFound)

	readySettlement(t, m)
	err = m.CreateSettlement(ctx, &models.DailySettlement{Date: date})
	assert.ErrorIs(t, err, models.ErrDuplicateSettlement)

	// Test compare-and-swap
	lock(t, m)
	ok, err := m.TransitionSettlement(ctx, Transition{
		Date: date,
		From: []models.SettlementStatus{models.SettlementStatusReady},
		To:   models.SettlementStatusProcessing,
		At:   at,
	})
	require.NoError(t, err)
	assert.False(t, ok, "a second lock must fail")

	s, err := m.GetSettlement(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusProcessing, s.Status)
	assert.Equal(t, 1, s.Attempts)
	require.NotNil(t, s.ProcessingStartedAt)

	cutoff := at
	ok, err = m.TransitionSettlement(ctx, Transition{
		Date: date, From: []models.SettlementStatus{models.SettlementStatusProcessing},
		To: models.SettlementStatusFailed, At: at, StartedBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.False(t, ok, "processing did not start before the cutoff")

	later := at.Add(time.Hour)
	ok, err = m.TransitionSettlement(ctx, Transition{
		Date: date, From: []models.SettlementStatus{models.SettlementStatusProcessing},
		To: models.SettlementStatusFailed, At: later, LastError: "timed out", StartedBefore: &later,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	s, err = m.GetSettlement(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, "timed out", s.LastError)
}

func TestMemoryStorePromote(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSettlement(ctx, &models.DailySettlement{
		Date: date, Status: models.SettlementStatusInsufficientIncome,
	}))

	ok, err := m.PromoteSettlement(ctx, date, amount("50"), amount("20"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.PromoteSettlement(ctx, date, amount("60"), amount("24"))
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := m.GetSettlement(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusReady, s.Status)
	assert.True(t, s.DistributionPool.Equal(amount("20")))
}

func TestMemoryStoreCommitSettlement(t *testing.T) {
	ctx := context.Background()

	newCommit := func(distributed string) SettlementCommit {
		return SettlementCommit{
			Date: date,
			Transactions: []models.FundPoolTransaction{{
				ID: "expense-1", Type: models.TransactionExpense, Category: models.CategoryACoinDistribution,
				Currency: models.CurrencyACoins, Amount: amount(distributed), Timestamp: at,
			}},
			Coin:            models.CurrencyACoins,
			Distributed:     amount(distributed),
			RecipientsCount: 1,
			TotalScore:      amount("10"),
			ActiveUserCount: 1,
			Records: []models.DistributionRecord{{
				SettlementDate: date, UserID: "alice", AmountDistributed: amount(distributed),
			}},
			Credits: []models.WalletCredit{{
				ID: "credit-1", SettlementDate: date, UserID: "alice", Amount: amount(distributed),
				Currency: models.CurrencyACoins, Status: models.WalletCreditPending,
			}},
			ExecutedAt: at,
		}
	}

	t.Run("Requires Processing", func(t *testing.T) {
		m := NewMemoryStore()
		readySettlement(t, m)
		err := m.CommitSettlement(ctx, newCommit("40"))
		assert.ErrorIs(t, err, models.ErrSettlementStateChanged)
	})

	t.Run("Overdraw Writes Nothing", func(t *testing.T) {
		m := NewMemoryStore()
		tx, stats := genesis(models.CurrencyACoins, "30")
		stats.TotalSupply = amount("30")
		stats.CirculatingSupply = amount("0")
		_, err := m.SeedGenesis(ctx, []models.FundPoolTransaction{tx}, []models.CoinStats{stats})
		require.NoError(t, err)
		readySettlement(t, m)
		lock(t, m)

		err = m.CommitSettlement(ctx, newCommit("40"))
		assert.ErrorIs(t, err, models.ErrNegativeBalance)

		records, err := m.ListDistributionRecords(ctx, date)
		require.NoError(t, err)
		assert.Empty(t, records)
		credits, err := m.ListPendingCredits(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, credits)
		s, err := m.GetSettlement(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementStatusProcessing, s.Status)
	})

	t.Run("Commits Atomically", func(t *testing.T) {
		m := NewMemoryStore()
		tx, stats := genesis(models.CurrencyACoins, "1000")
		_, err := m.SeedGenesis(ctx, []models.FundPoolTransaction{tx}, []models.CoinStats{stats})
		require.NoError(t, err)
		readySettlement(t, m)
		lock(t, m)

		require.NoError(t, m.CommitSettlement(ctx, newCommit("40")))

		s, err := m.GetSettlement(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, models.SettlementStatusCompleted, s.Status)
		assert.True(t, s.DistributedAmount.Equal(amount("40")))
		assert.Equal(t, 1, s.ActiveUserCount)

		balances, err := m.GetBalances(ctx)
		require.NoError(t, err)
		assert.True(t, balances.Get(models.CurrencyACoins).Equal(amount("960")))

		coin, err := m.GetCoinStats(ctx, models.CurrencyACoins)
		require.NoError(t, err)
		assert.True(t, coin.CirculatingSupply.Equal(amount("40")))
		assert.Equal(t, int64(1), coin.HoldersCount)

		credits, err := m.ListPendingCredits(ctx, date)
		require.NoError(t, err)
		require.Len(t, credits, 1)

		require.NoError(t, m.MarkCreditFailed(ctx, "credit-1", "timeout"))
		credits, err = m.ListPendingCredits(ctx, date)
		require.NoError(t, err)
		require.Len(t, credits, 1)
		assert.Equal(t, 1, credits[0].Attempts)

		require.NoError(t, m.MarkCreditDelivered(ctx, "credit-1", at))
		credits, err = m.ListPendingCredits(ctx, date)
		require.NoError(t, err)
		assert.Empty(t, credits)
		assert.Error(t, m.MarkCreditDelivered(ctx, "missing", at))

		sums, err := m.SumTransactions(ctx)
		require.NoError(t, err)
		assert.True(t, sums.Get(models.CurrencyACoins).Equal(balances.Get(models.CurrencyACoins)))
	})
}

func TestMemoryStoreLedger(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	tx, stats := genesis(models.CurrencyOCoins, "100")
	seeded, err := m.SeedGenesis(ctx, []models.FundPoolTransaction{tx}, []models.CoinStats{stats})
	require.NoError(t, err)
	assert.True(t, seeded)
	seeded, err = m.SeedGenesis(ctx, []models.FundPoolTransaction{tx}, []models.CoinStats{stats})
	require.NoError(t, err)
	assert.False(t, seeded)

	// a batch with an overdraw is rejected as a whole
	err = m.AppendTransactions(ctx, []models.FundPoolTransaction{
		{ID: "a", Type: models.TransactionIncome, Category: "revenue", Currency: models.CurrencyCash, Amount: amount("5"), Timestamp: at},
		{ID: "b", Type: models.TransactionExpense, Category: "commission", Currency: models.CurrencyCash, Amount: amount("6"), Timestamp: at},
	})
	assert.ErrorIs(t, err, models.ErrNegativeBalance)
	balances, err := m.GetBalances(ctx)
	require.NoError(t, err)
	assert.True(t, balances.Get(models.CurrencyCash).IsZero())

	require.NoError(t, m.AppendTransactions(ctx, []models.FundPoolTransaction{
		{ID: "c", Type: models.TransactionIncome, Category: "revenue", Currency: models.CurrencyCash, Amount: amount("5"), Timestamp: at.Add(time.Hour)},
	}))

	cash := models.CurrencyCash
	txs, err := m.ListTransactions(ctx, TransactionFilter{Currency: &cash})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	txs, err = m.ListTransactions(ctx, TransactionFilter{From: at, To: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, txs, 1, "To is exclusive")
	txs, err = m.ListTransactions(ctx, TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	require.NoError(t, m.UpdateCoinPrice(ctx, models.CurrencyOCoins, amount("0.3")))
	coin, err := m.GetCoinStats(ctx, models.CurrencyOCoins)
	require.NoError(t, err)
	assert.True(t, coin.LastPrice.Equal(amount("0.3")))
	assert.ErrorIs(t, m.UpdateCoinPrice(ctx, models.CurrencyACoins, amount("1")), models.ErrCoinStatsNotFound)
}

func TestMemoryStoreActivities(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	report := func(user, coins string) {
		require.NoError(t, m.RecordActivity(ctx, models.UserActivity{
			UserID: user, ActivityDate: date, GameCoinsEarned: amount(coins),
			ComputingPowerEarned: decimal.Zero, TransactionVolume: decimal.Zero,
		}))
	}
	report("bob", "10")
	report("alice", "5")
	report("bob", "2.5")

	list, err := m.ListActivities(ctx, date)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].UserID)
	assert.True(t, list[1].GameCoinsEarned.Equal(amount("12.5")))

	list, err = m.ListActivities(ctx, "2025-01-16")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestValidateTransaction(t *testing.T) {
	valid := models.FundPoolTransaction{Type: models.TransactionIncome, Currency: models.CurrencyCash, Amount: amount("1")}
	assert.NoError(t, ValidateTransaction(valid))

	bad := valid
	bad.Amount = decimal.Zero
	assert.ErrorIs(t, ValidateTransaction(bad), models.ErrInvalidAmount)

	bad = valid
	bad.Type = "swap"
	assert.ErrorIs(t, ValidateTransaction(bad), models.ErrInvalidTransactionType)

	bad = valid
	bad.Currency = models.CurrencyCount
	assert.ErrorIs(t, ValidateTransaction(bad), models.ErrInvalidCurrency)
}
