package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordBatchSize = 500

// GormRepository implements Store on top of PostgreSQL through gorm.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Store = (*GormRepository)(nil)

func (r *GormRepository) GetSettlement(ctx context.Context, date string) (*models.DailySettlement, error) {
	var s models.DailySettlement
	if err := r.db.WithContext(ctx).Where("date = ?", date).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrSettlementNotFound, date)
		}
		return nil, err
	}
	return &s, nil
}

func (r *GormRepository) CreateSettlement(ctx context.Context, s *models.DailySettlement) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date"}}, DoNothing: true}).
		Create(s)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDuplicateSettlement, s.Date)
	}
	return nil
}

func (r *GormRepository) PromoteSettlement(ctx context.Context, date string, income, pool decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.DailySettlement{}).
		Where("date = ? AND status = ?", date, models.SettlementStatusInsufficientIncome).
		Updates(map[string]interface{}{
			"status":              models.SettlementStatusReady,
			"platform_net_income": income,
			"distribution_pool":   pool,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRepository) TransitionSettlement(ctx context.Context, t Transition) (bool, error) {
	updates := map[string]interface{}{"status": t.To}
	switch t.To {
	case models.SettlementStatusProcessing:
		updates["processing_started_at"] = t.At
		updates["attempts"] = gorm.Expr("attempts + 1")
		updates["last_error"] = ""
	case models.SettlementStatusFailed:
		updates["last_error"] = t.LastError
	}

	q := r.db.WithContext(ctx).Model(&models.DailySettlement{}).
		Where("date = ? AND status IN ?", t.Date, t.From)
	if t.StartedBefore != nil {
		q = q.Where("processing_started_at < ?", *t.StartedBefore)
	}
	result := q.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRepository) ListSettlements(ctx context.Context, limit int) ([]models.DailySettlement, error) {
	var out []models.DailySettlement
	q := r.db.WithContext(ctx).Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) ListDistributionRecords(ctx context.Context, date string) ([]models.DistributionRecord, error) {
	var out []models.DistributionRecord
	if err := r.db.WithContext(ctx).Where("settlement_date = ?", date).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) ListPendingCredits(ctx context.Context, date string) ([]models.WalletCredit, error) {
	var out []models.WalletCredit
	q := r.db.WithContext(ctx).Where("status = ?", models.WalletCreditPending)
	if date != "" {
		q = q.Where("settlement_date = ?", date)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) MarkCreditDelivered(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WalletCredit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.WalletCreditDelivered,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   "",
			"delivered_at": at,
		}).Error
}

func (r *GormRepository) MarkCreditFailed(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).Model(&models.WalletCredit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

func (r *GormRepository) AppendTransactions(ctx context.Context, txs []models.FundPoolTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := appendTransactions(tx, txs); err != nil {
			return err
		}
		return applyCirculation(tx, CirculationDeltas(txs))
	})
}

// applyCirculation locks the coin stats rows in currency order and moves
// their circulating supply.
func applyCirculation(tx *gorm.DB, deltas models.Balances) error {
	for _, coin := range models.Currencies() {
		delta := deltas[coin]
		if delta.IsZero() {
			continue
		}
		var stats models.CoinStats
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("coin = ?", coin.String()).First(&stats).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, coin)
			}
			return err
		}
		updated, err := ApplyCirculation(stats, delta)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.CoinStats{}).
			Where("coin = ?", coin.String()).
			Update("circulating_supply", updated.CirculatingSupply).Error; err != nil {
			return err
		}
	}
	return nil
}

// appendTransactions locks the affected balance rows, applies txs and writes
// the log entries inside the caller's database transaction.
func appendTransactions(tx *gorm.DB, txs []models.FundPoolTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	var names []string
	seen := make(map[models.Currency]bool)
	for _, t := range txs {
		if err := ValidateTransaction(t); err != nil {
			return err
		}
		if !seen[t.Currency] {
			seen[t.Currency] = true
			names = append(names, t.Currency.String())
		}
	}

	var rows []models.FundPoolBalanceRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("currency IN ?", names).
		Find(&rows).Error; err != nil {
		return err
	}

	var current models.Balances
	for _, row := range rows {
		current[row.Currency] = row.Amount
	}
	next, err := ApplyTransactions(current, txs)
	if err != nil {
		return err
	}

	for c := range seen {
		row := models.FundPoolBalanceRow{Currency: c, Amount: next[c]}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "currency"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}

	return tx.CreateInBatches(&txs, recordBatchSize).Error
}

func (r *GormRepository) CommitSettlement(ctx context.Context, c SettlementCommit) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.DailySettlement
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("date = ?", c.Date).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", models.ErrSettlementNotFound, c.Date)
			}
			return err
		}
		if s.Status != models.SettlementStatusProcessing {
			return fmt.Errorf("%w: %s is %s", models.ErrSettlementStateChanged, c.Date, s.Status)
		}

		if err := appendTransactions(tx, c.Transactions); err != nil {
			return err
		}

		if c.Distributed.IsPositive() {
			if err := applySupplyDelta(tx, c); err != nil {
				return err
			}
		}

		if len(c.Records) > 0 {
			if err := tx.CreateInBatches(&c.Records, recordBatchSize).Error; err != nil {
				return err
			}
		}
		if len(c.Credits) > 0 {
			if err := tx.CreateInBatches(&c.Credits, recordBatchSize).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.DailySettlement{}).
			Where("date = ?", c.Date).
			Updates(map[string]interface{}{
				"status":                           models.SettlementStatusCompleted,
				"executed_at":                      c.ExecutedAt,
				"distributed_amount":               c.Distributed,
				"recipients_count":                 c.RecipientsCount,
				"total_network_contribution_score": c.TotalScore,
				"active_user_count":                c.ActiveUserCount,
				"last_error":                       "",
			}).Error
	})
}

// applySupplyDelta must run before the new distribution records are inserted
// so that holder detection only sees earlier payouts.
func applySupplyDelta(tx *gorm.DB, c SettlementCommit) error {
	var stats models.CoinStats
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("coin = ?", c.Coin.String()).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, c.Coin)
		}
		return err
	}

	circulating := stats.CirculatingSupply.Add(c.Distributed)
	if circulating.GreaterThan(stats.TotalSupply) {
		return fmt.Errorf("%w: %s", models.ErrSupplyExceeded, c.Coin)
	}

	var paid []string
	for _, r := range c.Records {
		if r.AmountDistributed.IsPositive() {
			paid = append(paid, r.UserID)
		}
	}
	var existing int64
	if len(paid) > 0 {
		if err := tx.Model(&models.DistributionRecord{}).
			Where("user_id IN ? AND amount_distributed > 0", paid).
			Distinct("user_id").
			Count(&existing).Error; err != nil {
			return err
		}
	}

	return tx.Model(&models.CoinStats{}).
		Where("coin = ?", c.Coin.String()).
		Updates(map[string]interface{}{
			"circulating_supply": circulating,
			"total_distributed":  stats.TotalDistributed.Add(c.Distributed),
			"holders_count":      stats.HoldersCount + int64(len(paid)) - existing,
		}).Error
}

func (r *GormRepository) SeedGenesis(ctx context.Context, txs []models.FundPoolTransaction, stats []models.CoinStats) (bool, error) {
	seeded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serialize concurrent seeders on the balance table
		if err := tx.Exec("LOCK TABLE fund_pool_balances IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.FundPoolTransaction{}).
			Where("category = ?", models.CategoryGenesis).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := appendTransactions(tx, txs); err != nil {
			return err
		}
		if len(stats) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&stats).Error; err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}

func (r *GormRepository) GetBalances(ctx context.Context) (models.Balances, error) {
	var rows []models.FundPoolBalanceRow
	var out models.Balances
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return out, err
	}
	for _, row := range rows {
		out[row.Currency] = row.Amount
	}
	return out, nil
}

type currencySum struct {
	Currency models.Currency
	Type     models.TransactionType
	Total    decimal.Decimal
}

func (r *GormRepository) SumTransactions(ctx context.Context) (models.Balances, error) {
	var sums []currencySum
	var out models.Balances
	if err := r.db.WithContext(ctx).Model(&models.FundPoolTransaction{}).
		Select("currency, type, COALESCE(SUM(amount), 0) AS total").
		Group("currency, type").
		Scan(&sums).Error; err != nil {
		return out, err
	}
	for _, s := range sums {
		if s.Type == models.TransactionExpense {
			out[s.Currency] = out[s.Currency].Sub(s.Total)
		} else {
			out[s.Currency] = out[s.Currency].Add(s.Total)
		}
	}
	return out, nil
}

func (r *GormRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.FundPoolTransaction, error) {
	q := r.db.WithContext(ctx).Model(&models.FundPoolTransaction{})
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp < ?", filter.To)
	}
	if filter.Currency != nil {
		q = q.Where("currency = ?", filter.Currency.String())
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []models.FundPoolTransaction
	if err := q.Order("timestamp ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) GetCoinStats(ctx context.Context, coin models.Currency) (*models.CoinStats, error) {
	var s models.CoinStats
	if err := r.db.WithContext(ctx).Where("coin = ?", coin.String()).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, coin)
		}
		return nil, err
	}
	return &s, nil
}

func (r *GormRepository) UpdateCoinPrice(ctx context.Context, coin models.Currency, price decimal.Decimal) error {
	result := r.db.WithContext(ctx).Model(&models.CoinStats{}).
		Where("coin = ?", coin.String()).
		Update("last_price", price)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrCoinStatsNotFound, coin)
	}
	return nil
}

func (r *GormRepository) RecordActivity(ctx context.Context, a models.UserActivity) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "activity_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"game_coins_earned":      gorm.Expr("user_activities.game_coins_earned + EXCLUDED.game_coins_earned"),
			"computing_power_earned": gorm.Expr("user_activities.computing_power_earned + EXCLUDED.computing_power_earned"),
			"transaction_volume":     gorm.Expr("user_activities.transaction_volume + EXCLUDED.transaction_volume"),
			"updated_at":             gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&a).Error
}

func (r *GormRepository) ListActivities(ctx context.Context, date string) ([]models.UserActivity, error) {
	var out []models.UserActivity
	if err := r.db.WithContext(ctx).
		Where("activity_date = ?", date).
		Order("user_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
