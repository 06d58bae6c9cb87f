package business

import (
	"github.com/shopspring/decimal"
)

const (
	// CurrencyPrecision is the number of decimals a payout is truncated to.
	CurrencyPrecision int32 = 2
	ratioPrecision    int32 = 18
	amountPrecision   int32 = 8
)

// MinUnit 最小可发放金额，低于该值的分配不转账，留在资金池中
var MinUnit = decimal.New(1, -CurrencyPrecision)

// Recipient is one scored participant of a distribution.
type Recipient struct {
	UserID            string          `json:"user_id" binding:"required"`
	ContributionScore decimal.Decimal `json:"contribution_score"`
}

// Allocation is the computed share of one recipient.
type Allocation struct {
	UserID            string          `json:"user_id"`
	ContributionScore decimal.Decimal `json:"contribution_score"`
	Ratio             decimal.Decimal `json:"ratio"`
	AmountCalculated  decimal.Decimal `json:"amount_calculated"`
	AmountDistributed decimal.Decimal `json:"amount_distributed"`
}

// FailedDistribution is an allocation whose wallet credit could not be delivered.
// The amount stays owed and is retried from the wallet credit outbox.
type FailedDistribution struct {
	Allocation
	Error string `json:"error"`
}

// DistributionBatchResult 按贡献度分配的批次结果
type DistributionBatchResult struct {
	Pool                    decimal.Decimal      `json:"pool"`
	TotalScore              decimal.Decimal      `json:"total_score"`
	TotalAmountDistributed  decimal.Decimal      `json:"total_amount_distributed"`
	RecipientsCount         int                  `json:"recipients_count"`
	SuccessfulDistributions []Allocation         `json:"successful_distributions"`
	FailedDistributions     []FailedDistribution `json:"failed_distributions"`
	// BelowThreshold lists users whose share was under the minimum unit.
	BelowThreshold []Allocation `json:"below_threshold"`
}

// Retained is the part of the pool that was not paid out.
func (r DistributionBatchResult) Retained() decimal.Decimal {
	return r.Pool.Sub(r.TotalAmountDistributed)
}

// DistributionPolicy holds the payout rounding rules.
type DistributionPolicy struct {
	MinUnit   decimal.Decimal
	Precision int32
}

// DefaultDistributionPolicy pays in 0.01 units, truncating toward zero.
func DefaultDistributionPolicy() DistributionPolicy {
	return DistributionPolicy{MinUnit: MinUnit, Precision: CurrencyPrecision}
}

// DistributeByContribution splits pool pro-rata by score with the default policy.
func DistributeByContribution(pool decimal.Decimal, recipients []Recipient) DistributionBatchResult {
	return DefaultDistributionPolicy().Distribute(pool, recipients)
}

// Distribute computes every recipient's share. Shares are truncated so the sum
// never exceeds pool; shares under MinUnit are not paid and their mass stays
// in the pool. Recipients with a non-positive score get nothing and do not
// count toward the total score.
func (p DistributionPolicy) Distribute(pool decimal.Decimal, recipients []Recipient) DistributionBatchResult {
	result := DistributionBatchResult{
		Pool:                    pool,
		TotalScore:              decimal.Zero,
		TotalAmountDistributed:  decimal.Zero,
		SuccessfulDistributions: []Allocation{},
		FailedDistributions:     []FailedDistribution{},
		BelowThreshold:          []Allocation{},
	}

	for _, r := range recipients {
		if r.ContributionScore.IsPositive() {
			result.TotalScore = result.TotalScore.Add(r.ContributionScore)
		}
	}
	if !result.TotalScore.IsPositive() || !pool.IsPositive() {
		return result
	}

	for _, r := range recipients {
		a := Allocation{
			UserID:            r.UserID,
			ContributionScore: r.ContributionScore,
			Ratio:             decimal.Zero,
			AmountCalculated:  decimal.Zero,
			AmountDistributed: decimal.Zero,
		}
		if r.ContributionScore.IsPositive() {
			weighted := pool.Mul(r.ContributionScore)
			a.Ratio = r.ContributionScore.DivRound(result.TotalScore, ratioPrecision)
			a.AmountCalculated, _ = weighted.QuoRem(result.TotalScore, amountPrecision)
			if a.AmountCalculated.GreaterThanOrEqual(p.MinUnit) {
				a.AmountDistributed, _ = weighted.QuoRem(result.TotalScore, p.Precision)
			}
		}

		if a.AmountDistributed.IsPositive() {
			result.SuccessfulDistributions = append(result.SuccessfulDistributions, a)
			result.TotalAmountDistributed = result.TotalAmountDistributed.Add(a.AmountDistributed)
		} else {
			result.BelowThreshold = append(result.BelowThreshold, a)
		}
	}
	result.RecipientsCount = len(result.SuccessfulDistributions)
	return result
}

// Allocations returns paid and unpaid allocations in input order of each group.
func (r DistributionBatchResult) Allocations() []Allocation {
	out := make([]Allocation, 0, len(r.SuccessfulDistributions)+len(r.FailedDistributions)+len(r.BelowThreshold))
	out = append(out, r.SuccessfulDistributions...)
	for _, f := range r.FailedDistributions {
		out = append(out, f.Allocation)
	}
	return append(out, r.BelowThreshold...)
}
