package repository

import (
	"context"
	"fmt"
	"time"

	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
)

// SettlementRepository persists daily settlements, their distribution records
// and the wallet credit outbox.
type SettlementRepository interface {
	GetSettlement(ctx context.Context, date string) (*models.DailySettlement, error)
	// CreateSettlement returns models.ErrDuplicateSettlement when the date already exists.
	CreateSettlement(ctx context.Context, s *models.DailySettlement) error
	// PromoteSettlement moves an insufficient_income settlement to ready with the given pool.
	PromoteSettlement(ctx context.Context, date string, income, pool decimal.Decimal) (bool, error)
	// TransitionSettlement is a compare-and-swap on the status column.
	TransitionSettlement(ctx context.Context, t Transition) (bool, error)
	ListSettlements(ctx context.Context, limit int) ([]models.DailySettlement, error)
	ListDistributionRecords(ctx context.Context, date string) ([]models.DistributionRecord, error)
	ListPendingCredits(ctx context.Context, date string) ([]models.WalletCredit, error)
	MarkCreditDelivered(ctx context.Context, id string, at time.Time) error
	MarkCreditFailed(ctx context.Context, id string, reason string) error
}

// Transition describes a guarded status change for one settlement date.
type Transition struct {
	Date      string
	From      []models.SettlementStatus
	To        models.SettlementStatus
	At        time.Time
	LastError string
	// StartedBefore restricts the match to settlements whose processing began earlier.
	StartedBefore *time.Time
}

// LedgerRepository is the only storage path that mutates fund pool balances.
type LedgerRepository interface {
	// AppendTransactions appends and applies the transactions atomically.
	AppendTransactions(ctx context.Context, txs []models.FundPoolTransaction) error
	// CommitSettlement applies a settlement outcome and completes the settlement atomically.
	CommitSettlement(ctx context.Context, c SettlementCommit) error
	// SeedGenesis appends the genesis transactions and coin stats once; false if already seeded.
	SeedGenesis(ctx context.Context, txs []models.FundPoolTransaction, stats []models.CoinStats) (bool, error)
	GetBalances(ctx context.Context) (models.Balances, error)
	// SumTransactions folds the whole log into per-currency signed sums.
	SumTransactions(ctx context.Context) (models.Balances, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.FundPoolTransaction, error)
	GetCoinStats(ctx context.Context, coin models.Currency) (*models.CoinStats, error)
	UpdateCoinPrice(ctx context.Context, coin models.Currency, price decimal.Decimal) error
}

// ActivityRepository stores raw activity reported by the activity collaborator.
type ActivityRepository interface {
	RecordActivity(ctx context.Context, a models.UserActivity) error
	ListActivities(ctx context.Context, date string) ([]models.UserActivity, error)
}

// Store groups every repository the engine needs.
type Store interface {
	SettlementRepository
	LedgerRepository
	ActivityRepository
}

// SettlementCommit is everything written when a settlement completes.
type SettlementCommit struct {
	Date            string
	Transactions    []models.FundPoolTransaction
	Coin            models.Currency
	Distributed     decimal.Decimal
	RecipientsCount int
	TotalScore      decimal.Decimal
	ActiveUserCount int
	Records         []models.DistributionRecord
	Credits         []models.WalletCredit
	ExecutedAt      time.Time
}

// TransactionFilter selects a half-open [From, To) window of the log.
type TransactionFilter struct {
	From     time.Time
	To       time.Time
	Currency *models.Currency
	Category string
	Limit    int
}

func (f TransactionFilter) match(tx models.FundPoolTransaction) bool {
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Timestamp.Before(f.To) {
		return false
	}
	if f.Currency != nil && tx.Currency != *f.Currency {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	return true
}

// ValidateTransaction checks the boundary rules shared by every ledger writer.
func ValidateTransaction(tx models.FundPoolTransaction) error {
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidTransactionType, tx.Type)
	}
	if !tx.Currency.Valid() {
		return fmt.Errorf("%w: %d", models.ErrInvalidCurrency, uint8(tx.Currency))
	}
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", models.ErrInvalidAmount, tx.Amount.String())
	}
	return nil
}

// ApplyTransactions returns the balances after applying txs in order, or
// models.ErrNegativeBalance if any expense would overdraw its currency.
func ApplyTransactions(current models.Balances, txs []models.FundPoolTransaction) (models.Balances, error) {
	next := current
	for _, tx := range txs {
		if err := ValidateTransaction(tx); err != nil {
			return current, err
		}
		updated := next[tx.Currency].Add(tx.Signed())
		if updated.IsNegative() {
			return current, fmt.Errorf("%w: %s balance %s, expense %s",
				models.ErrNegativeBalance, tx.Currency, next[tx.Currency].String(), tx.Amount.String())
		}
		next[tx.Currency] = updated
	}
	return next, nil
}

// CirculationDeltas returns the circulating supply change per supply-managed
// coin: income returns coins to the pool, expense releases them.
func CirculationDeltas(txs []models.FundPoolTransaction) models.Balances {
	var deltas models.Balances
	for _, tx := range txs {
		if tx.Currency.SupplyManaged() {
			deltas[tx.Currency] = deltas[tx.Currency].Sub(tx.Signed())
		}
	}
	return deltas
}

// ApplyCirculation moves stats.CirculatingSupply by delta, keeping it within
// [0, TotalSupply].
func ApplyCirculation(stats models.CoinStats, delta decimal.Decimal) (models.CoinStats, error) {
	next := stats.CirculatingSupply.Add(delta)
	if next.IsNegative() {
		return stats, fmt.Errorf("%w: %s circulating %s, returned %s",
			models.ErrCirculationUnderflow, stats.Coin, stats.CirculatingSupply.String(), delta.Neg().String())
	}
	if next.GreaterThan(stats.TotalSupply) {
		return stats, fmt.Errorf("%w: %s", models.ErrSupplyExceeded, stats.Coin)
	}
	stats.CirculatingSupply = next
	return stats, nil
}

func statusIn(s models.SettlementStatus, set []models.SettlementStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
