package business

import (
	"rewardengine/internal/models"

	"github.com/shopspring/decimal"
)

// 贡献度权重
var (
	WeightGameCoins         = decimal.RequireFromString("0.5")
	WeightComputingPower    = decimal.RequireFromString("0.3")
	WeightTransactionVolume = decimal.RequireFromString("0.2")
)

// ContributionRecord is one user's activity for a settlement period together
// with the derived score. It is never persisted.
type ContributionRecord struct {
	UserID               string          `json:"user_id"`
	GameCoinsEarned      decimal.Decimal `json:"game_coins_earned"`
	ComputingPowerEarned decimal.Decimal `json:"computing_power_earned"`
	TransactionVolume    decimal.Decimal `json:"transaction_volume"`
	ContributionScore    decimal.Decimal `json:"contribution_score"`
}

// ContributionScore returns gameCoins×0.5 + computingPower×0.3 + transactionVolume×0.2.
func ContributionScore(gameCoins, computingPower, transactionVolume decimal.Decimal) decimal.Decimal {
	return gameCoins.Mul(WeightGameCoins).
		Add(computingPower.Mul(WeightComputingPower)).
		Add(transactionVolume.Mul(WeightTransactionVolume))
}

// NewContributionRecord scores a single user's raw activity.
func NewContributionRecord(a models.UserActivity) ContributionRecord {
	return ContributionRecord{
		UserID:               a.UserID,
		GameCoinsEarned:      a.GameCoinsEarned,
		ComputingPowerEarned: a.ComputingPowerEarned,
		TransactionVolume:    a.TransactionVolume,
		ContributionScore:    ContributionScore(a.GameCoinsEarned, a.ComputingPowerEarned, a.TransactionVolume),
	}
}

// NetworkContribution sums the raw metrics of every record and scores the totals.
func NetworkContribution(records []ContributionRecord) ContributionRecord {
	var total ContributionRecord
	for _, r := range records {
		total.GameCoinsEarned = total.GameCoinsEarned.Add(r.GameCoinsEarned)
		total.ComputingPowerEarned = total.ComputingPowerEarned.Add(r.ComputingPowerEarned)
		total.TransactionVolume = total.TransactionVolume.Add(r.TransactionVolume)
	}
	total.ContributionScore = ContributionScore(total.GameCoinsEarned, total.ComputingPowerEarned, total.TransactionVolume)
	return total
}

// SumScores adds up per-user scores; equal to NetworkContribution by linearity.
func SumScores(records []ContributionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.ContributionScore)
	}
	return sum
}
